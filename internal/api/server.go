// Package api serves the Kestrel HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. When metricsPath is non-empty and
// deps.Metrics is set, the Prometheus registry is served there.
func NewServer(cfg domain.ServerConfig, deps Deps, metricsPath string) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser dashboards
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metricsPath != "" && deps.Metrics != nil {
		router.Handle(metricsPath, deps.Metrics.Handler())
	}

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Scoring
		r.Post("/analyze", handler.Analyze)
		r.Get("/results/{id}", handler.GetResult)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Post("/alerts/{id}/read", handler.MarkAlertRead)
		r.Post("/alerts/{id}/dismiss", handler.DismissAlert)

		// Model performance
		r.Get("/models/performance", handler.ModelPerformance)

		// Watch rules
		r.Get("/watch-rules", handler.ListWatchRules)
		r.Get("/watch-rules/{id}", handler.GetWatchRule)
		r.Post("/watch-rules", handler.CreateWatchRule)
		r.Post("/watch-rules/reload", handler.ReloadWatchRules)
	})

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
