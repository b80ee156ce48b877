package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/observability"
	"github.com/xwander/tablewright/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.ProbeHandler(handlers.ProbeAggregate))
	s.router.Get("/health/live", handlers.ProbeHandler(handlers.ProbeLive))
	s.router.Get("/health/ready", handlers.ProbeHandler(handlers.ProbeReady))
	s.router.Get("/health/startup", handlers.ProbeHandler(handlers.ProbeStartup))

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", s.handleMetrics)

	if s.api != nil {
		s.router.Route("/v1", s.registerAPI)
	}

	s.registerAdminEndpoint()
}

// registerAPI mounts the records automation endpoints
func (s *Server) registerAPI(r chi.Router) {
	api := s.api

	r.Post("/formulas/render", api.RenderFormula)
	r.Get("/rate-limits", api.RateLimits)

	r.Route("/bases/{base}", func(r chi.Router) {
		r.Get("/schema", api.GetSchema)
		r.Delete("/schema", api.InvalidateSchema)

		r.Route("/tables/{table}", func(r chi.Router) {
			r.Post("/records/query", api.QueryRecords)
			r.Post("/batch/{operation}", api.RunBatch)
		})
	})

	r.Get("/runs", api.ListRuns)
	r.Get("/runs/{id}", api.GetRun)
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	tokenVar := appid.EnvVar("ADMIN_TOKEN")
	adminToken := os.Getenv(tokenVar)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
