// Package server provides the HTTP API: the assistant endpoint, the inbound
// webhook surface, and the audit and task query endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/channel"
	"github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/pipeline"
	"github.com/warden-io/warden/internal/policy"
	"github.com/warden-io/warden/internal/task"
)

const defaultTimeout = 30 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router       *chi.Mux
	orchestrator *pipeline.Orchestrator
	channels     *channel.Registry
	auditStore   *bucket.Store
	taskStore    *task.Store
	table        *policy.Compiled
	apiKeys      []string
	corsOrigins  []string
	startTime    time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKeys enables API-key auth on the query endpoints. Empty means the
// API is open, which is the single-operator default.
func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithCORSOrigins sets allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s).
func NewServer(
	orchestrator *pipeline.Orchestrator,
	channels *channel.Registry,
	auditStore *bucket.Store,
	taskStore *task.Store,
	table *policy.Compiled,
	opts ...Option,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		orchestrator: orchestrator,
		channels:     channels,
		auditStore:   auditStore,
		taskStore:    taskStore,
		table:        table,
		corsOrigins:  []string{"*"},
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	// Webhooks carry provider payloads, not operator API keys.
	r.Post("/webhook/{channel}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))

		r.Post("/v1/assistant", s.handleAssistant)

		r.Get("/v1/audit/{trace_id}", s.handleAuditReplay)

		r.Get("/v1/tasks", s.handleTaskList)
		r.Get("/v1/tasks/{trace_id}", s.handleTaskGet)
		r.Delete("/v1/tasks/{trace_id}", s.handleTaskDelete)

		r.Get("/v1/policy", s.handlePolicyInfo)
	})

	return r
}
