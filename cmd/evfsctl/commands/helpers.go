// Package commands implements the evfsctl subcommands: keyring management,
// storage policy checks, page-level backup/rekeying, and the admin HTTP
// server.
package commands

import (
	"context"
	"log/slog"

	"github.com/evfsdb/evfs/internal/app"
)

// closeContainer shuts down the container's process-wide resources and
// logs any failure, for use in a defer alongside a command's main work.
func closeContainer(container *app.Container, logger *slog.Logger) {
	if err := container.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}
