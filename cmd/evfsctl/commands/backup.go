package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evfsdb/evfs/internal/app"
	"github.com/evfsdb/evfs/internal/backup"
	"github.com/evfsdb/evfs/internal/config"
)

// RunBackup re-keys every page of srcPath into dstPath, decrypting each
// page under src's keyring and re-encrypting it under dst's (independent,
// freshly initialized) keyring. Both files use the page geometry from cfg.
func RunBackup(ctx context.Context, cfg *config.Config, srcPath, dstPath string) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	bizMetrics, err := container.BusinessMetrics()
	if err != nil {
		return fmt.Errorf("build business metrics: %w", err)
	}

	srcFc, err := container.NewFileContext(srcPath)
	if err != nil {
		return fmt.Errorf("build source file context: %w", err)
	}
	dstFc, err := container.NewFileContext(dstPath)
	if err != nil {
		return fmt.Errorf("build destination file context: %w", err)
	}

	source, err := openFilePagerForRead(srcPath, cfg.PageSize)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	sink, err := openFilePagerForWrite(dstPath, cfg.PageSize)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer sink.Close()

	pipeline := backup.New(srcFc, dstFc, logger, bizMetrics)
	result, err := pipeline.Run(ctx, source, sink)
	if err != nil {
		return fmt.Errorf("backup run %s failed: %w", result.RunID, err)
	}

	logger.Info("backup complete",
		slog.String("run_id", result.RunID),
		slog.Int("pages_copied", result.PagesCopied),
		slog.String("src", srcPath), slog.String("dst", dstPath))
	return nil
}
