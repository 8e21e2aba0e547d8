// Package api provides the HTTP API for the ClawTrace server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/api/handlers"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/api/middleware"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/db"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/gateway"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/monitoring"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

// Config holds configuration for the API router.
type Config struct {
	// CronSecret protects scheduler-only endpoints. Empty disables them.
	CronSecret string
	// RateLimitRequests is the per-IP request budget allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for the per-IP budget (e.g. "1m").
	RateLimitPeriod string
	// MaxBodyBytes caps the size of request bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 300,
		RateLimitPeriod:   "1m",
		MaxBodyBytes:      1 << 20,
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	handshaker *auth.Handshaker,
	gw *gateway.Gateway,
	detector *monitoring.Detector,
	limiter *ratelimit.Limiter,
	registry *metrics.Registry,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	ipLimiter, err := middleware.NewIPRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(ipLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	r.Engine.GET("/metrics", gin.WrapH(registry.Handler()))

	// Agent-facing endpoints
	agentHandler := handlers.NewAgentHandler(handshaker, gw, limiter, logger)
	v1 := r.Engine.Group("/api/v1")
	{
		agents := v1.Group("/agents")
		{
			agents.POST("/handshake", agentHandler.Handshake)
			agents.POST("/heartbeat", agentHandler.Heartbeat)
		}

		cron := v1.Group("/cron")
		cron.Use(middleware.CronAuth(cfg.CronSecret, logger))
		{
			cronHandler := handlers.NewCronHandler(detector, logger)
			cron.POST("/check-stale", cronHandler.CheckStale)
		}
	}

	// WebSocket telemetry stream
	r.Engine.GET("/ws/gateway", gin.WrapF(gw.ServeWS))

	return r, nil
}
