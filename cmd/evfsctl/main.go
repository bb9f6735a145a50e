// Package main provides the evfsctl entry point: keyring management,
// storage policy checks, page-level backup/rekeying, and the admin HTTP
// server, for the encrypted-VFS layer.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/evfsdb/evfs/cmd/evfsctl/commands"
	"github.com/evfsdb/evfs/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:    "evfsctl",
		Usage:   "Manage the encrypted-VFS keyring, storage policy, and backups",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "keyring",
				Usage: "Manage per-database DEKs",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Materialize the sidecar for a database, generating its DEKs",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Required: true, Usage: "Path to the database file"},
							&cli.StringSliceFlag{Name: "table", Usage: "Table name to also generate a table-scope DEK for (repeatable)"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							cfg := config.Load()
							return commands.RunKeyringInit(ctx, cfg, cmd.String("db"), cmd.StringSlice("table"))
						},
					},
					{
						Name:  "rewrap",
						Usage: "Re-wrap all DEKs under the current KEK",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Required: true, Usage: "Path to the database file"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							cfg := config.Load()
							return commands.RunKeyringRewrap(ctx, cfg, cmd.String("db"))
						},
					},
					{
						Name:  "show",
						Usage: "List the scopes known to a database's sidecar",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Required: true, Usage: "Path to the database file"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							cfg := config.Load()
							return commands.RunKeyringShow(ctx, cfg, cmd.String("db"), os.Stdout)
						},
					},
				},
			},
			{
				Name:  "policy",
				Usage: "Storage policy guard",
				Commands: []*cli.Command{
					{
						Name:  "check",
						Usage: "Check the configured storage policy against a database's filesystem",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "db", Required: true, Usage: "Path to the database file"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							cfg := config.Load()
							return commands.RunPolicyCheck(ctx, cfg, cmd.String("db"), os.Stdout)
						},
					},
				},
			},
			{
				Name:  "backup",
				Usage: "Page-level backup and re-keying",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "Copy and re-key every page from src into dst",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "src", Required: true, Usage: "Source database file"},
							&cli.StringFlag{Name: "dst", Required: true, Usage: "Destination database file"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							cfg := config.Load()
							return commands.RunBackup(ctx, cfg, cmd.String("src"), cmd.String("dst"))
						},
					},
				},
			},
			{
				Name:  "server",
				Usage: "Run the admin HTTP server (/healthz, /metrics)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := config.Load()
					return commands.RunServer(ctx, cfg)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("evfsctl error", slog.Any("error", err))
		os.Exit(1)
	}
}
