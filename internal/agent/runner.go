package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// DefaultHeartbeatInterval is used until a handshake delivers a policy.
const DefaultHeartbeatInterval = 60 * time.Second

const spoolDrainBatch = 50

// Runner drives the agent lifecycle: handshake, periodic heartbeats on the
// policy interval, and spooling while the server is unreachable.
type Runner struct {
	client    *Client
	collector *Collector
	spool     *Spool
	logger    zerolog.Logger
}

// NewRunner creates a runner. The spool may be nil to disable offline buffering.
func NewRunner(client *Client, collector *Collector, spool *Spool, logger zerolog.Logger) *Runner {
	return &Runner{
		client:    client,
		collector: collector,
		spool:     spool,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
}

// Run heartbeats until ctx is cancelled. It returns the ctx error on exit.
func (r *Runner) Run(ctx context.Context) error {
	interval := DefaultHeartbeatInterval
	if err := r.client.Handshake(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("initial handshake failed, will retry")
	} else if p := r.client.Policy(); p != nil && p.HeartbeatInterval > 0 {
		interval = p.Interval()
	}
	r.logger.Info().Dur("interval", interval).Msg("agent started")

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		next := r.beat(ctx, interval)
		timer.Reset(next)
		interval = next
	}
}

// beat sends one heartbeat and returns the delay before the next one.
func (r *Runner) beat(ctx context.Context, interval time.Duration) time.Duration {
	m := r.collector.Collect(ctx)
	now := time.Now()

	_, err := r.client.SendHeartbeat(ctx, models.AgentStatusHealthy, m)
	switch {
	case err == nil:
		r.drainSpool(ctx)
		if p := r.client.Policy(); p != nil && p.HeartbeatInterval > 0 {
			return p.Interval()
		}
		return interval

	case errors.Is(err, ErrUnauthorized):
		r.logger.Info().Msg("session expired, re-handshaking")
		if hsErr := r.client.Handshake(ctx); hsErr != nil {
			r.logger.Warn().Err(hsErr).Msg("re-handshake failed")
			r.enqueue(ctx, m, now)
		} else if _, retryErr := r.client.SendHeartbeat(ctx, models.AgentStatusHealthy, m); retryErr != nil {
			r.enqueue(ctx, m, now)
		}
		return interval

	default:
		var limited *RateLimitedError
		if errors.As(err, &limited) {
			r.logger.Warn().Dur("retry_after", limited.RetryAfter).Msg("rate limited")
			if limited.RetryAfter > interval {
				return limited.RetryAfter
			}
			return interval
		}
		r.logger.Warn().Err(err).Msg("heartbeat failed, spooling")
		r.enqueue(ctx, m, now)
		return interval
	}
}

func (r *Runner) enqueue(ctx context.Context, m *models.AgentMetrics, recordedAt time.Time) {
	if r.spool == nil {
		return
	}
	if err := r.spool.Enqueue(ctx, models.AgentStatusHealthy, m, recordedAt); err != nil {
		r.logger.Error().Err(err).Msg("spool heartbeat")
	}
}

// drainSpool replays spooled heartbeats after connectivity returns. The
// server keeps only the freshest snapshot per agent, so replay order just
// needs to end with the newest.
func (r *Runner) drainSpool(ctx context.Context) {
	if r.spool == nil {
		return
	}

	pending, err := r.spool.Pending(ctx, spoolDrainBatch)
	if err != nil {
		r.logger.Error().Err(err).Msg("read spool")
		return
	}

	for _, beat := range pending {
		if _, err := r.client.SendHeartbeat(ctx, beat.Status, beat.Metrics); err != nil {
			r.logger.Warn().Err(err).Int64("id", beat.ID).Msg("spool replay stopped")
			return
		}
		if err := r.spool.Delete(ctx, beat.ID); err != nil {
			r.logger.Error().Err(err).Int64("id", beat.ID).Msg("delete replayed heartbeat")
			return
		}
	}

	if len(pending) > 0 {
		r.logger.Info().Int("count", len(pending)).Msg("spool drained")
	}
}
