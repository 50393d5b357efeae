package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/manual-assistant/internal/adapters/mcp"
	"github.com/kirillkom/manual-assistant/internal/bootstrap"
	"github.com/kirillkom/manual-assistant/internal/config"
	"github.com/kirillkom/manual-assistant/internal/observability/logging"
)

// stdout carries the MCP protocol, so logs go to stderr.
func main() {
	cfg := config.Load()
	logger := logging.NewLogger(os.Stderr, "manual-mcp", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.BootstrapDocsDir != "" {
		if _, err := app.IngestDir(ctx, cfg.BootstrapDocsDir); err != nil {
			logger.Error("bootstrap_docs_failed", "dir", cfg.BootstrapDocsDir, "error", err)
		}
	}
	if cfg.WorkerEmbedded {
		app.Background(ctx, "embedded_worker", app.Worker.Run)
	}

	server, err := mcpadapter.NewServer(mcpadapter.Ports{
		Answerer:  app.Ask,
		Documents: app.Catalog,
		Queue:     app.Catalog,
	})
	if err != nil {
		logger.Error("mcp_init_failed", "error", err)
		os.Exit(1)
	}
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp_server_stopped", "error", err)
	}
}
