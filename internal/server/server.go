package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

// Server exposes the copy controller over a JSON API.
type Server struct {
	controller *engine.Controller
	classifier *media.Classifier
	store      *store.Store
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	// heartbeat is the idle interval between SSE keep-alive comments.
	heartbeat time.Duration
}

// NewServer creates a new Server instance. st may be nil when run history
// is disabled.
func NewServer(
	ctrl *engine.Controller,
	classifier *media.Classifier,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = media.NewClassifier(nil, logger)
	}
	return &Server{
		controller: ctrl,
		classifier: classifier,
		store:      st,
		config:     cfg,
		logger:     logger,
		heartbeat:  15 * time.Second,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/counts", s.handleAPICounts)

	// Copy job control
	mux.HandleFunc("POST /api/start", s.handleAPIStart)
	mux.HandleFunc("POST /api/stop", s.handleAPIStop)
	mux.HandleFunc("GET /api/events", s.handleAPIEvents)
	mux.HandleFunc("GET /api/events/stream", s.handleAPIEventStream)

	// Run history
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("GET /api/runs/{id}/errors", s.handleAPIRunErrors)

	mux.HandleFunc("GET /{$}", s.handleRedirectStatus)

	return mux
}
