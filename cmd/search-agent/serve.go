package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/config"
	"github.com/spasmodic123/search-agent/internal/events"
	"github.com/spasmodic123/search-agent/internal/logging"
	"github.com/spasmodic123/search-agent/internal/orchestrator"
	"github.com/spasmodic123/search-agent/internal/session"
	"github.com/spasmodic123/search-agent/internal/telemetry"
	"github.com/spasmodic123/search-agent/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the research HTTP server",
	Long: `Start the HTTP server exposing the research loop.

Endpoints:
  GET  /health               liveness probe
  GET  /metrics              Prometheus metrics
  POST /api/research/sync    run to completion, return the final draft
  POST /api/research/stream  run and stream step events as SSE`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	broker, nc, err := connectBroker(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer func() {
		nc.Close()
		if broker != nil {
			broker.Shutdown()
			broker.WaitForShutdown()
		}
	}()

	var store session.Store
	switch cfg.Session.Backend {
	case "memory":
		store = session.NewMemoryStore()
	default:
		store, err = session.NewKVStore(&session.KVStoreConfig{Bucket: cfg.Session.Bucket}, nc, logger)
		if err != nil {
			return err
		}
	}
	defer func() { _ = store.Close() }()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	pub, err := events.NewNATSPublisher(nc, logger)
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(client, buildGateway(cfg, logger), store, pub, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, engine, nc, logger)
	if err != nil {
		return err
	}

	logger.Info("server starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Provider.Model),
		zap.String("session_backend", cfg.Session.Backend),
	)
	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Info("server stopped")
	return nil
}
