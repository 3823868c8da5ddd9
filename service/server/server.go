package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/orand/service/config"
	"github.com/brojonat/orand/service/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the randomness service.
type Server struct {
	addr         string
	cfg          *config.Config
	randomness   RandomnessReader
	store        RequestStore
	workflows    WorkflowStarter
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, ledger records are omitted and listing is unavailable.
// The workflows starter is optional - if nil, POST /api/v1/randomness returns 503.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, randomness RandomnessReader, store RequestStore, workflows WorkflowStarter, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		randomness:   randomness,
		store:        store,
		workflows:    workflows,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Randomness routes
	route("POST /api/v1/randomness", "/api/v1/randomness", handleRequestRandomness(s.randomness, s.workflows, s.cfg, s.logger))
	route("GET /api/v1/randomness", "/api/v1/randomness", handleListRandomness(s.randomness, s.store, s.logger))
	route("GET /api/v1/randomness/{seed}", "/api/v1/randomness/{seed}", handleGetRandomness(s.randomness, s.store, s.logger))
	route("GET /api/v1/randomness/{seed}/verify", "/api/v1/randomness/{seed}/verify", handleVerifyRandomness(s.randomness, s.logger))
	route("GET /api/v1/address/{seed}", "/api/v1/address/{seed}", handleGetAddress(s.randomness))
	route("GET /api/v1/config", "/api/v1/config", handleGetConfig(s.randomness, s.logger))
	route("GET /api/v1/workflows/{workflow_id}", "/api/v1/workflows/{workflow_id}", handleGetWorkflow(s.workflows, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/randomness/{address}", handleStreamRandomness(s.ssePublisher, s.logger))
		mux.Handle("GET /api/v1/stream/randomness", handleStreamRandomness(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(requestIDMiddleware(mux))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Verify endpoints hold a request open until the scan finishes.
	writeTimeout := 60 * time.Second
	if s.cfg != nil && s.cfg.ConfirmTimeout > writeTimeout {
		writeTimeout = s.cfg.ConfirmTimeout
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestIDMiddleware tags every response with an X-Request-ID. A valid UUID
// sent by the caller is echoed back.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
