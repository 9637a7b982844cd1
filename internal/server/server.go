// Package server provides the HTTP API for vismatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/config"
	"github.com/taipei-doit/vismatch-svc/internal/engine"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
)

// Server is the HTTP server for the vismatch API.
type Server struct {
	engine  *engine.Engine
	store   storage.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	started time.Time
}

// NewServer creates a server with the given dependencies.
func NewServer(eng *engine.Engine, store storage.Store, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		engine: eng,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Delete("/projects/{project}", s.handleDeleteProject)
		r.Post("/projects/{project}/query", s.handleQuery)
		r.Post("/projects/{project}/images", s.handleIngest)
		r.Delete("/projects/{project}/images/{identifier}", s.handleRemove)
		r.Post("/projects/{project}/evict", s.handleEvict)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.started = time.Now()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
