// Package config provides configuration management for ClawTrace.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string
	RedisURL    string // optional; empty selects the in-memory bucket store
	MasterKey   []byte // 32-byte AES key, hex-encoded in MASTER_KEY
	JWTSecret   []byte
	CronSecret  string

	FlushInterval  time.Duration
	CacheRefresh   time.Duration
	StaleThreshold time.Duration
	SweepSchedule  string // cron expression; empty disables the internal sweeper

	MetricsRetentionDays int // 0 disables the nightly metrics history cleanup

	RateLimitRequests int64
	RateLimitPeriod   string
	MaxBodyBytes      int64

	LogLevel string
}

// LoadServerConfig reads server configuration from environment variables.
// Secrets are validated here so a misconfigured server fails at startup
// instead of at the first request.
func LoadServerConfig() (*ServerConfig, error) {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	masterKeyHex := os.Getenv("MASTER_KEY")
	if masterKeyHex == "" {
		return nil, errors.New("MASTER_KEY is required")
	}
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode MASTER_KEY: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &ServerConfig{
		Environment:          env,
		ListenAddr:           getEnvStr("LISTEN_ADDR", ":8080"),
		DatabaseURL:          databaseURL,
		RedisURL:             os.Getenv("REDIS_URL"),
		MasterKey:            masterKey,
		JWTSecret:            []byte(jwtSecret),
		CronSecret:           os.Getenv("CRON_SECRET"),
		FlushInterval:        getEnvDuration("FLUSH_INTERVAL", 10*time.Second),
		CacheRefresh:         getEnvDuration("CACHE_REFRESH", 5*time.Minute),
		StaleThreshold:       getEnvDuration("STALE_THRESHOLD", 5*time.Minute),
		SweepSchedule:        os.Getenv("SWEEP_SCHEDULE"),
		MetricsRetentionDays: getEnvInt("METRICS_RETENTION_DAYS", 30),
		RateLimitRequests:    int64(getEnvInt("RATE_LIMIT_REQUESTS", 300)),
		RateLimitPeriod:      getEnvStr("RATE_LIMIT_PERIOD", "1m"),
		MaxBodyBytes:         int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		LogLevel:             getEnvStr("LOG_LEVEL", "info"),
	}, nil
}

// getEnvStr reads a string from an environment variable, returning the default if unset.
func getEnvStr(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
