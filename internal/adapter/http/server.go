package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/pipeline"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes run triggers plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	registry   *pipeline.Registry
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /runs/{source}, /healthz, /readyz,
// and /metrics routes.
func NewServer(addr string, registry *pipeline.Registry, db Pinger, runTimeout time.Duration, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// Run responses are written only after the ingest finishes, so
			// the write timeout must cover a whole run.
			WriteTimeout: runTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		registry:   registry,
		runTimeout: runTimeout,
		logger:     logger,
	}

	mux.HandleFunc("POST /runs/{source}", s.handleRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(db))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleRun triggers one synchronous ingest run and responds with its
// summary: 200 completed, 409 lease held elsewhere, 500 failed.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	runner, ok := s.registry.Lookup(source)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source: " + source})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	summary, err := runner.Run(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, domain.ErrLeaseHeld):
		writeJSON(w, http.StatusConflict, summary)
	default:
		writeJSON(w, http.StatusInternalServerError, summary)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
