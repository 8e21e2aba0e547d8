// Package main is the entrypoint for the ClawTrace server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/api"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/config"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/crypto"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/db"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/gateway"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/monitoring"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/notifications"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting ClawTrace server")

	// Connect to database and run migrations
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	keyManager, err := crypto.NewKeyManager(cfg.MasterKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize key manager")
		return 1
	}

	registry := metrics.New(prometheus.NewRegistry())

	// Rate limit buckets live in Redis when configured so limits hold
	// across replicas; otherwise they are process-local.
	var bucketStore ratelimit.BucketStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return 1
		}
		defer redisClient.Close()
		bucketStore = ratelimit.NewRedisStore(redisClient, "")
		logger.Info().Msg("Redis bucket store initialized")
	} else {
		bucketStore = ratelimit.NewMemoryStore()
		logger.Info().Msg("Using in-memory rate limit buckets")
	}
	limiter := ratelimit.NewLimiter(bucketStore, registry, logger)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, auth.DefaultTokenTTL)
	handshaker := auth.NewHandshaker(database, keyManager, issuer, limiter, registry, logger)

	// Alerting
	notifier := notifications.NewService(10*time.Second, logger)
	alertEngine := monitoring.NewEngine(database, notifier, registry, logger)

	// Telemetry gateway: metadata cache, heartbeat buffer, flush cycle
	cache := gateway.NewMetaCache(database, cfg.CacheRefresh, logger)
	if err := cache.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to warm agent metadata cache")
		return 1
	}
	defer cache.Stop()

	buffer := gateway.NewHeartbeatBuffer()
	flusher := gateway.NewFlusher(buffer, database, registry, cfg.FlushInterval, gateway.DefaultFlushTimeout, logger)
	flusher.Start()
	defer flusher.Stop()

	gw := gateway.NewGateway(issuer, buffer, cache, alertEngine, limiter, registry, logger)

	// Stale detection: always available via the cron endpoint, optionally
	// self-scheduled when SWEEP_SCHEDULE is set.
	detector := monitoring.NewDetector(database, alertEngine, registry, cfg.StaleThreshold, logger)
	if cfg.SweepSchedule != "" {
		sweeper := monitoring.NewSweepScheduler(detector, cfg.SweepSchedule, logger)
		if cfg.MetricsRetentionDays > 0 {
			sweeper.EnableRetention(database, cfg.MetricsRetentionDays)
		}
		if err := sweeper.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start sweep scheduler")
			return 1
		}
		defer sweeper.Stop()
	}

	routerCfg := api.Config{
		CronSecret:        cfg.CronSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}
	router, err := api.NewRouter(routerCfg, database, handshaker, gw, detector, limiter, registry, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
