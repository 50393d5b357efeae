package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/manual-assistant/internal/adapters/http"
	"github.com/kirillkom/manual-assistant/internal/bootstrap"
	"github.com/kirillkom/manual-assistant/internal/config"
	"github.com/kirillkom/manual-assistant/internal/observability/logging"
	"github.com/kirillkom/manual-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(os.Stdout, "manual-api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	// Runs after Shutdown: background work stops before backends close.
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("manual-api")
	if cfg.WorkerEmbedded {
		httpMetrics.Attach(app.WorkerMetrics.Registry())
		app.Background(ctx, "embedded_worker", app.Worker.Run)
	}
	if cfg.BootstrapDocsDir != "" {
		app.Background(ctx, "bootstrap_docs", func(ctx context.Context) error {
			results, err := app.IngestDir(ctx, cfg.BootstrapDocsDir)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", cfg.BootstrapDocsDir, err)
			}
			logger.Info("bootstrap_docs_ingested", "dir", cfg.BootstrapDocsDir, "documents", len(results))
			return nil
		})
	}

	handler, err := httpadapter.NewRouter(cfg, app.Ingest, app.Ask, app.Catalog, app.Catalog).
		WithMetrics(httpMetrics).
		Handler()
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	// No WriteTimeout: answers stream for as long as generation runs.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: cfg.APIReadHeaderTimeout,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "worker_embedded", cfg.WorkerEmbedded)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
