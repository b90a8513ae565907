package server

import (
	"context"
	"net/http"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"

	"github.com/kosmostars/spacefeed/internal/appid"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/observability"
	"github.com/kosmostars/spacefeed/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Standard health endpoints per Workhorse §9
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	if s.api != nil {
		s.registerAPIRoutes()
	}

	// Admin signal endpoint (optional, requires SPACEFEED_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAPIRoutes mounts the feed read API and refresh triggers.
func (s *Server) registerAPIRoutes() {
	api := s.api
	throttled := func(h http.HandlerFunc) http.Handler {
		if s.throttle == nil {
			return h
		}
		return s.throttle.Middleware(h)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/iss/latest", api.ISSLatest)
		r.Get("/iss/trend", api.ISSTrend)
		r.Method(http.MethodPost, "/iss/refresh", throttled(api.ISSRefresh))

		r.Get("/osdr", api.ListDatasets)
		r.Method(http.MethodPost, "/osdr/sync", throttled(api.SyncDatasets))

		r.Get("/space/cache/{source}", api.CachedSource)
		r.Method(http.MethodPost, "/space/refresh", throttled(api.RefreshSources))

		r.Get("/sources", api.Sources)
	})
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	// Get admin token from environment (identity-aware)
	ctx := context.Background()
	identity, _ := appid.Get(ctx)
	envPrefix := "SPACEFEED_"
	if identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

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

	// Register admin endpoint
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
