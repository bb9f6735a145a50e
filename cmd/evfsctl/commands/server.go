package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evfsdb/evfs/internal/app"
	"github.com/evfsdb/evfs/internal/config"
	"github.com/evfsdb/evfs/internal/httpserver"
)

// RunServer starts the admin HTTP surface (/healthz, /metrics) and blocks
// until it receives SIGINT/SIGTERM, then shuts down gracefully.
func RunServer(ctx context.Context, cfg *config.Config) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	metricsProvider, err := container.MetricsProvider()
	if err != nil {
		return fmt.Errorf("build metrics provider: %w", err)
	}

	srv := httpserver.NewServer(cfg.ServerHost, cfg.ServerPort, logger)
	srv.SetupRouter(metricsProvider)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	case err := <-serverErr:
		return err
	}

	return nil
}
