// Package api provides the HTTP interface to the qualification engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/pipeline"
	"github.com/openleads/kestrel/internal/routing"
	"github.com/openleads/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.QualificationEngine, tagEngine *rules.TagEngine, processor *pipeline.Processor, planner *routing.Planner, version string, mode domain.PipelineMode) *Server {
	handler := NewHandler(repo, cache, bus, engine, tagEngine, processor, planner, version, mode)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for widget clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Lead capture and evaluation
	router.Post("/leads", handler.CaptureLead)
	router.Post("/qualify", handler.Qualify)
	router.Post("/route", handler.Route)

	// Lead and decision retrieval
	router.Get("/leads/{id}", handler.GetLead)
	router.Get("/leads/{id}/decision", handler.GetLeadDecision)
	router.Get("/decisions/{id}", handler.GetDecision)

	// Qualification rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Tag rule management
	router.Get("/tag-rules", handler.ListTagRules)
	router.Get("/tag-rules/{id}", handler.GetTagRule)
	router.Get("/tag-rules/category/{category}", handler.ListTagRulesByCategory)
	router.Post("/tag-rules", handler.CreateTagRule)
	router.Delete("/tag-rules/{id}", handler.DeleteTagRule)
	router.Post("/tag-rules/reload", handler.ReloadTagRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
