package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/appid"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/server/handlers"
)

// OpsPrefix holds operational endpoints. Files under a top-level "-"
// directory are therefore not reachable.
const OpsPrefix = "/-"

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Route(OpsPrefix, func(r chi.Router) {
		if hm := s.opts.Health; hm != nil {
			r.Get("/health", hm.HealthHandler)
			r.Get("/health/live", hm.LivenessHandler)
			r.Get("/health/ready", hm.ReadinessHandler)
			r.Get("/health/startup", hm.StartupHandler)
		}

		r.Get("/version", handlers.VersionHandler)

		if s.opts.Metrics {
			// Metrics endpoint (in server package to access HandleError)
			r.Get("/metrics", MetricsHandler)
		}

		// Admin signal endpoint (optional, requires TOLLGATE_ADMIN_TOKEN)
		s.registerAdminEndpoint(r)
	})

	// Everything else is the served tree.
	s.router.Get("/*", s.files.HandleGet)
	s.router.Head("/*", s.files.HandleGet)
	s.router.Post("/*", s.files.HandlePost)
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint(r chi.Router) {
	envPrefix := appid.EnvPrefix
	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
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

	r.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", OpsPrefix+"/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
