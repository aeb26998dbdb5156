// Package server exposes the orchestrator's HTTP API: deployment submission
// and inspection, role and permission-set definitions, and the global AWS
// settings. Submission is accept-then-execute: a successful POST means the
// deployment is recorded and queued, not that it ran.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/grantline/grantline/pkg/config"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// Enqueuer hands accepted deployments to the execution queue.
type Enqueuer interface {
	Enqueue(deploymentID string)
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	store    stores.Store
	queue    Enqueuer
	log      *telemetry.Logger
	validate *validator.Validate
	http     *http.Server
}

// New creates the API server with its routes wired.
func New(cfg config.ServerConfig, store stores.Store, queue Enqueuer, log *telemetry.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		log:      log.NewComponentLogger("server"),
		validate: validator.New(),
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Router builds the chi router. Exposed separately so tests can drive the
// handler stack without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	if s.cfg.RateLimit > 0 {
		r.Use(rateLimiter(s.cfg.RateLimit, s.cfg.RateBurst))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", s.handleCreateDeployment)
			r.Get("/", s.handleListDeployments)
			r.Get("/{id}", s.handleGetDeployment)
			r.Get("/{id}/logs", s.handleGetDeploymentLogs)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Post("/", s.handleCreateRole)
			r.Get("/", s.handleListRoles)
			r.Get("/{id}", s.handleGetRole)
		})

		r.Route("/permission-sets", func(r chi.Router) {
			r.Post("/", s.handleCreatePermissionSet)
			r.Get("/", s.handleListPermissionSets)
			r.Get("/{id}", s.handleGetPermissionSet)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handlePutSettings)
		})
	})

	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Infof("http api listening on %s", s.cfg.ListenAddress)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
