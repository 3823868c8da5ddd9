package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/orand/service/config"
	"github.com/brojonat/orand/service/db"
	"github.com/brojonat/orand/service/metrics"
	"github.com/brojonat/orand/service/server"
	"github.com/brojonat/orand/service/solana"
	"github.com/brojonat/orand/service/temporal"
	"github.com/brojonat/orand/service/vrf"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := cfg.Env()
	if err != nil {
		logger.Error("invalid network settings", "error", err)
		os.Exit(1)
	}

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Note: For premium RPC endpoints, include API key in the URL
	chain, err := solana.Dial(env.RPCURLs, metricsCollector, logger,
		solana.WithConfirmTimeout(cfg.ConfirmTimeout),
	)
	if err != nil {
		logger.Error("failed to create solana client", "error", err)
		os.Exit(1)
	}
	requestor := vrf.NewRequestor(chain, env, metricsCollector, logger)

	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("connected to temporal",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
	)

	// SSE streaming is optional: the API still serves without NATS.
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to create SSE publisher, streaming endpoints disabled", "error", err)
		ssePublisher = nil
	}

	httpServer := server.New(cfg.ServerAddr, cfg, requestor, store, temporalClient, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"program_id", env.ProgramID.String(),
		"rpc_endpoints", len(env.RPCURLs),
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}
