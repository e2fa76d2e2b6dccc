// Package http exposes the operator API: manual job submission, job and
// queue inspection, binding and checkpoint listings, and health probes.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driving"
	"github.com/carebridge-labs/carebridge-core/internal/worker"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter exposes worker health for the readiness endpoint.
type HealthReporter interface {
	Health(ctx context.Context) worker.Health
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	admin    driving.SyncAdmin
	jobQueue driven.JobQueue
	worker   HealthReporter // can be nil in server-only mode

	recordStore Pinger // can be nil
	lock        Pinger // can be nil
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	Version   string
	APISecret string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	admin driving.SyncAdmin,
	jobQueue driven.JobQueue,
	healthReporter HealthReporter,
	recordStore Pinger,
	lock Pinger,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:      http.NewServeMux(),
		version:     cfg.Version,
		logger:      logger,
		admin:       admin,
		jobQueue:    jobQueue,
		worker:      healthReporter,
		recordStore: recordStore,
		lock:        lock,
	}

	auth := NewAuthMiddleware(cfg.APISecret)
	logging := NewLoggingMiddleware(logger)
	recovery := NewRecoveryMiddleware(logger)

	s.setupRoutes(auth)

	var handler http.Handler = s.router
	handler = logging.Handler(handler)
	handler = recovery.Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(auth *AuthMiddleware) {
	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Job endpoints
	s.router.Handle("POST /api/v1/jobs",
		auth.Authenticate(http.HandlerFunc(s.handleSubmitJob)))
	s.router.Handle("GET /api/v1/jobs/{id}",
		auth.Authenticate(http.HandlerFunc(s.handleGetJob)))

	// Queue inspection
	s.router.Handle("GET /api/v1/queue/stats",
		auth.Authenticate(http.HandlerFunc(s.handleQueueStats)))

	// Binding inspection
	s.router.Handle("GET /api/v1/bindings",
		auth.Authenticate(http.HandlerFunc(s.handleListBindings)))

	// Checkpoint endpoints
	s.router.Handle("GET /api/v1/checkpoints",
		auth.Authenticate(http.HandlerFunc(s.handleListCheckpoints)))
	s.router.Handle("POST /api/v1/checkpoints/{id}/resolve",
		auth.Authenticate(http.HandlerFunc(s.handleResolveCheckpoint)))
}

// Start starts listening. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
