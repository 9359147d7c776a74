package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/clock/system"
	"github.com/JakeFAU/scrapeflow/internal/config"
	"github.com/JakeFAU/scrapeflow/internal/metrics"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Submitter runs one crawl submission for an owner.
type Submitter interface {
	Submit(ctx context.Context, owner, rawURL string) (task.SubmitResult, error)
}

// StatusReader answers read-only task queries for an owner.
type StatusReader interface {
	GetStatus(ctx context.Context, owner, taskID string) (task.Snapshot, error)
	Recent(ctx context.Context, owner string, limit int) ([]task.Task, error)
}

// Pinger reports whether a dependency is ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the orchestrator and the status reader.
type Server struct {
	router    chi.Router
	submitter Submitter
	reader    StatusReader
	verifier  task.Verifier
	keys      task.Verifier
	ready     Pinger
	clock     task.Clock
	validate  *validator.Validate
	cfg       config.ServerConfig
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. keys and ready
// may be nil; without keys the key verification route is not mounted.
func NewServer(
	submitter Submitter,
	reader StatusReader,
	verifier task.Verifier,
	keys task.Verifier,
	ready Pinger,
	clock task.Clock,
	cfg config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	s := &Server{
		submitter: submitter,
		reader:    reader,
		verifier:  verifier,
		keys:      keys,
		ready:     ready,
		clock:     clock,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(cfg.CORSOrigin))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if keys != nil {
			r.Post("/keys/verify", s.verifyKey)
		}
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(verifier, s.logger))
			r.Post("/crawl", s.submit)
			r.Post("/crawl/status", s.status)
			r.Get("/tasks", s.recent)
			r.Get("/tasks/{task_id}/export", s.export)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}
