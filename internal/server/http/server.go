// Package httpserver provides the HTTP REST API of the research pipeline
// service: job intake, status reads, a progress stream and session chat.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/database"
	"github.com/helixir/research-pipeline-service/internal/dispatch"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/repository"
	litemporal "github.com/helixir/research-pipeline-service/internal/temporal"
)

// ProgressQuerier reads the live progress of a running pipeline.
type ProgressQuerier interface {
	QueryProgress(ctx context.Context, jobID uuid.UUID) (*litemporal.PipelineProgress, error)
}

// HealthChecker reports job store health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	jobs       repository.JobRepository
	publisher  dispatch.Publisher
	progress   ProgressQuerier
	health     HealthChecker
	chat       ChatService
	metrics    *observability.Metrics
	validate   *validator.Validate
	logger     zerolog.Logger

	streamInterval    time.Duration
	streamMaxDuration time.Duration
	now               func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// StreamInterval is how often the progress stream polls the job store.
	StreamInterval time.Duration
	// StreamMaxDuration bounds how long one progress stream stays open.
	StreamMaxDuration time.Duration
}

// NewServer creates a new HTTP server. progress and health may be nil.
func NewServer(
	cfg Config,
	jobs repository.JobRepository,
	publisher dispatch.Publisher,
	progress ProgressQuerier,
	health HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		jobs:              jobs,
		publisher:         publisher,
		progress:          progress,
		health:            health,
		metrics:           metrics,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		logger:            logger.With().Str("component", "http-server").Logger(),
		streamInterval:    cfg.StreamInterval,
		streamMaxDuration: cfg.StreamMaxDuration,
		now:               func() time.Time { return time.Now().UTC() },
	}
	if s.streamInterval <= 0 {
		s.streamInterval = defaultStreamInterval
	}
	if s.streamMaxDuration <= 0 {
		s.streamMaxDuration = defaultStreamMaxDuration
	}

	s.router = s.buildRouter()

	// WriteTimeout is left to the caller; zero keeps progress streams open.
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.createJob)
		r.Get("/jobs/{jobID}", s.getJobBySessionParam)

		r.Route("/sessions/{sessionID}/jobs", func(r chi.Router) {
			r.Use(sessionContextMiddleware)
			r.Get("/", s.listJobs)
			r.Get("/{jobID}", s.getJob)
			r.Get("/{jobID}/stream", s.streamProgress)
		})

		r.Post("/chat", s.postChat)
		r.With(sessionContextMiddleware).Get("/sessions/{sessionID}/chat", s.getChatHistory)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the job store is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "store": "memory"})
		return
	}
	health := s.health.Health(r.Context())
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
