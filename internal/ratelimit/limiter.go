package ratelimit

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// BucketStore performs an atomic refill-and-consume against a single bucket.
// Implementations must guarantee that concurrent Take calls on the same key
// never observe a partially refilled bucket, and that tokens stay within
// [0, capacity].
type BucketStore interface {
	// Take attempts to consume one token. When the bucket is empty it returns
	// allowed=false and the number of seconds until one token is available.
	Take(ctx context.Context, key string, cfg BucketConfig) (allowed bool, retryAfter float64, err error)
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Route      Route
	RetryAfter int // seconds, only set when not allowed
}

// LimitedError reports a denied rate limit check. Handlers map it to a 429
// response carrying the retry hint.
type LimitedError struct {
	Route      Route
	RetryAfter int
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded on %s route, retry after %ds", e.Route, e.RetryAfter)
}

// DeniedError returns a *LimitedError when the check was denied, nil
// otherwise.
func (r Result) DeniedError() error {
	if r.Allowed {
		return nil
	}
	return &LimitedError{Route: r.Route, RetryAfter: r.RetryAfter}
}

// Limiter charges requests against tier-scoped token buckets. The limiter is
// a policy gate, not an availability gate: when the bucket store is
// unreachable it fails open and lets the request through.
type Limiter struct {
	store    BucketStore
	registry *metrics.Registry
	logger   zerolog.Logger
}

// NewLimiter creates a Limiter backed by the given bucket store.
func NewLimiter(store BucketStore, registry *metrics.Registry, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		registry: registry,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Check charges one token against the (identifier, route) bucket sized for
// tier. Identifier is the caller identity the bucket is keyed on, typically
// an agent ID or client IP.
func (l *Limiter) Check(ctx context.Context, identifier string, route Route, tier models.Tier) Result {
	cfg := Config(tier, route)
	key := identifier + ":" + string(route)

	allowed, retryAfter, err := l.store.Take(ctx, key, cfg)
	if err != nil {
		// Fail open: a broken bucket store must not take the ingest path down.
		l.logger.Warn().Err(err).
			Str("key", key).
			Str("route", string(route)).
			Msg("bucket store unavailable, allowing request")
		l.registry.RateLimitFailOpen.Inc()
		return Result{Allowed: true, Route: route}
	}

	if !allowed {
		l.registry.RateLimitRejected.WithLabelValues(string(route)).Inc()
		return Result{
			Allowed:    false,
			Route:      route,
			RetryAfter: int(math.Ceil(retryAfter)),
		}
	}
	return Result{Allowed: true, Route: route}
}
