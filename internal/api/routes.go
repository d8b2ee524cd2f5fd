// Package api provides the HTTP API for the Seatkeeper server.
package api

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/api/handlers"
	"github.com/MacJediWizard/seatkeeper/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimit with zero Requests disables rate limiting.
	RateLimit middleware.RateLimitConfig
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client IP.
	TrustedProxies []string
	MaxBodyBytes   int64
	// Version information for the root descriptor.
	Version handlers.VersionInfo
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimit:    middleware.RateLimitConfig{Requests: 600, Period: time.Minute},
		MaxBodyBytes: middleware.DefaultMaxBodyBytes,
		Version:      handlers.VersionInfo{Version: "dev"},
	}
}

// Deps are the services the router dispatches to.
type Deps struct {
	Seats handlers.SeatEngine
	// Trials is optional; without it /trial/validate is not served.
	Trials handlers.TrialValidator
	Audit  handlers.AuditRecorder
	// Health is optional; without it the database check reports not configured.
	Health handlers.DatabaseHealthChecker
	// Drain is optional; when set, health fails once shutdown begins.
	Drain handlers.DrainState
	// Gatherer is optional; without it /metrics is not served.
	Gatherer     prometheus.Gatherer
	TrialMetrics handlers.TrialMetrics
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	if deps.Seats == nil {
		return nil, fmt.Errorf("seat engine is required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	if err := r.Engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	if cfg.MaxBodyBytes > 0 {
		r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}

	if cfg.RateLimit.Requests > 0 {
		rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit, logger)
		if err != nil {
			return nil, err
		}
		r.Engine.Use(rateLimiter)
	} else {
		r.logger.Warn().Msg("rate limiting disabled")
	}

	handlers.NewRootHandler(cfg.Version).RegisterPublicRoutes(r.Engine)
	healthHandler := handlers.NewHealthHandler(deps.Health, logger)
	if deps.Drain != nil {
		healthHandler.SetDrainState(deps.Drain)
	}
	healthHandler.RegisterPublicRoutes(r.Engine)
	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	}

	handlers.NewLicenseHandler(deps.Seats, deps.Audit, logger).RegisterPublicRoutes(r.Engine)

	if deps.Trials != nil {
		trialHandler := handlers.NewTrialHandler(deps.Trials, deps.Audit, logger)
		if deps.TrialMetrics != nil {
			trialHandler.SetMetrics(deps.TrialMetrics)
		}
		trialHandler.RegisterPublicRoutes(r.Engine)
	}

	r.Engine.NoRoute(handlers.NotFound)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
