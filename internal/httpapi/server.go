// Package httpapi exposes the broker over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wagiedev/ragbroker/internal/history"
	"github.com/wagiedev/ragbroker/internal/ingest"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// Querier is the broker surface the HTTP layer depends on.
type Querier interface {
	Submit(ctx context.Context, question string, topK int, timeout time.Duration) (*protocol.Response, error)
	State() worker.State
}

// HistoryStore records and lists answered queries.
type HistoryStore interface {
	Record(ctx context.Context, e *history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// IngestRunner triggers and reports ingestion jobs.
type IngestRunner interface {
	Names() []string
	Trigger(name string) (string, error)
	Get(id string) (ingest.Run, bool)
	List() []ingest.Run
}

// Config holds API server configuration.
type Config struct {
	Listen string

	// Gatherer serves GET /metrics when non-nil.
	Gatherer prometheus.Gatherer

	// MaxTimeout caps the per-request timeout a client may ask for.
	MaxTimeout time.Duration
}

// Server is the HTTP adapter in front of a broker.
type Server struct {
	config  Config
	querier Querier
	history HistoryStore
	jobs    IngestRunner
	logger  *slog.Logger
	server  *http.Server
}

// New creates a server. history and jobs may be nil, which disables their routes.
func New(config Config, querier Querier, hist HistoryStore, jobs IngestRunner, logger *slog.Logger) *Server {
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = 5 * time.Minute
	}

	return &Server{
		config:  config,
		querier: querier,
		history: hist,
		jobs:    jobs,
		logger:  logger.With("component", "httpapi"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.MaxTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/query", s.handleQuery)

		if s.history != nil {
			r.Get("/queries", s.handleRecentQueries)
		}

		if s.jobs != nil {
			r.Get("/ingest", s.handleListRuns)
			r.Post("/ingest/{job}", s.handleTriggerIngest)
			r.Get("/ingest/runs/{id}", s.handleGetRun)
		}
	})

	if s.config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
