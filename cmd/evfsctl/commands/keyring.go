package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"

	"github.com/evfsdb/evfs/internal/app"
	"github.com/evfsdb/evfs/internal/config"
)

// RunKeyringInit materializes the sidecar for dbPath: it resolves (and, on
// first run, generates and persists) the database-scope DEK, plus one
// table-scope DEK per name in tableNames. After this, a fresh process
// opening the same dbPath loads these DEKs from the sidecar and only asks
// the KMS provider to unwrap them; no new DEK is generated.
func RunKeyringInit(ctx context.Context, cfg *config.Config, dbPath string, tableNames []string) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	kr, err := container.NewKeyring()
	if err != nil {
		return fmt.Errorf("build keyring: %w", err)
	}
	if err := kr.SetSidecarPath(dbPath, cfg.SidecarExtension); err != nil {
		return fmt.Errorf("bind sidecar: %w", err)
	}

	if _, err := kr.DekFor(ctx, cryptoDomain.DatabaseScope); err != nil {
		return fmt.Errorf("initialize database-scope DEK: %w", err)
	}
	for _, name := range tableNames {
		if _, err := kr.DekFor(ctx, cryptoDomain.TableScope(name)); err != nil {
			return fmt.Errorf("initialize table-scope DEK for %q: %w", name, err)
		}
	}

	logger.Info("keyring initialized",
		slog.String("db_path", dbPath), slog.Int("table_scopes", len(tableNames)))
	return nil
}

// RunKeyringRewrap re-wraps every DEK known to dbPath's sidecar under the
// KMS provider's current KEK. Use after rotating the underlying KEK (e.g. a
// new version at the configured cloud KMS key, or a new device key file):
// DEK bytes are unchanged, only their wrapped on-disk form.
func RunKeyringRewrap(ctx context.Context, cfg *config.Config, dbPath string) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	kr, err := container.NewKeyring()
	if err != nil {
		return fmt.Errorf("build keyring: %w", err)
	}
	if err := kr.SetSidecarPath(dbPath, cfg.SidecarExtension); err != nil {
		return fmt.Errorf("bind sidecar: %w", err)
	}

	entries := kr.Entries()
	if len(entries) == 0 {
		logger.Warn("no entries found in sidecar, nothing to rewrap", slog.String("db_path", dbPath))
		return nil
	}
	for _, e := range entries {
		if _, err := kr.DekFor(ctx, e.Scope); err != nil {
			return fmt.Errorf("unwrap scope %s: %w", e.Scope, err)
		}
	}

	if err := kr.RewrapAll(ctx); err != nil {
		return fmt.Errorf("rewrap all: %w", err)
	}

	logger.Info("keyring rewrapped", slog.String("db_path", dbPath), slog.Int("entries", len(entries)))
	return nil
}

// RunKeyringShow prints the scope, KEK id, and algorithm of every DEK known
// to dbPath's sidecar. Never prints key material.
func RunKeyringShow(ctx context.Context, cfg *config.Config, dbPath string, out io.Writer) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	kr, err := container.NewKeyring()
	if err != nil {
		return fmt.Errorf("build keyring: %w", err)
	}
	if err := kr.SetSidecarPath(dbPath, cfg.SidecarExtension); err != nil {
		return fmt.Errorf("bind sidecar: %w", err)
	}

	entries := kr.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no entries")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\tkek=%s\talgorithm=%s\n", e.Scope, e.KekID, e.Algorithm)
	}
	return nil
}
