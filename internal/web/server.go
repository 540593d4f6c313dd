// Package web exposes the ingestion service over HTTP as a JSON API.
package web

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/finbase/b3ingest/internal/config"
	"github.com/finbase/b3ingest/internal/ingest"
	"github.com/finbase/b3ingest/internal/ledger"
	"github.com/finbase/b3ingest/internal/store"
	"github.com/finbase/b3ingest/internal/web/middleware"
)

// Service is the ingestion and query surface the handlers call.
type Service interface {
	Ingest(ctx context.Context, fileName string, file io.Reader) ingest.Result
	History(ctx context.Context, f ledger.Filter) ([]ledger.UploadRecord, error)
	Search(ctx context.Context, f store.ContentFilter, page int) (ingest.SearchResult, error)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the ingestion API.
type Server struct {
	service Service
	pinger  Pinger
	limiter *ingest.Limiter
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server instance. pinger and limiter may be nil.
func NewServer(service Service, pinger Pinger, limiter *ingest.Limiter, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		pinger:  pinger,
		limiter: limiter,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(s.cfg.Server.RequestTimeout))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/uploads", s.handleUpload)
		r.Get("/uploads/history", s.handleHistory)
		r.Get("/file-contents", s.handleSearch)
	})
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
