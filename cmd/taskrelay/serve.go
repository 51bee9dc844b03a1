package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	httpapi "github.com/fyrsmithlabs/taskrelay/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and periodic reminder sweeps",
		Long: `Run the task request HTTP API. When reminders are enabled, a sweep
runs every reminder.sweep_interval until the process is stopped.

Examples:
  # Start with the default config file
  taskrelay serve

  # Override the port
  TASKRELAY_SERVER_HTTP_PORT=8080 taskrelay serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the server until ctx is cancelled, then shuts down within
// the configured timeout.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting taskrelay",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("messaging", cfg.Messaging.Driver),
		zap.Bool("events", cfg.Events.Enabled),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(a.service, a.scheduler, logger,
		&httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		httpapi.WithGatherer(a.registry),
		httpapi.WithHealthCheck(a.health),
		httpapi.WithHTTPMetrics(httpapi.NewHTTPMetrics(a.telemetry.Meter(httpapi.InstrumentationName), logger)),
	)
	if err != nil {
		a.Close(context.Background())
		return err
	}

	if cfg.Reminder.Enabled {
		if err := a.scheduler.Start(); err != nil {
			a.Close(context.Background())
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("http shutdown: %w", err))
	}
	a.Close(shutdownCtx)

	logger.Info(shutdownCtx, "server shutdown complete")
	return serveErr
}
