package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// DefaultStaleThreshold is how long an agent may go without heartbeating
// before a sweep marks it offline.
const DefaultStaleThreshold = 5 * time.Minute

// SweepStore transitions stale agents in a single statement.
type SweepStore interface {
	// MarkStaleAgentsOffline sets status=offline for agents whose status is
	// healthy or idle and whose last heartbeat predates cutoff, returning the
	// transitioned agents. Agents that never heartbeated are left alone.
	MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) ([]models.SweptAgent, error)
}

// Evaluator is the alert hook the detector notifies about offline
// transitions.
type Evaluator interface {
	Evaluate(ctx context.Context, agentID uuid.UUID, agentName string, status models.AgentStatus, m *models.AgentMetrics, configs []models.AlertConfig)
}

// Detector sweeps for agents that silently stopped heartbeating.
type Detector struct {
	store     SweepStore
	alerts    Evaluator
	registry  *metrics.Registry
	logger    zerolog.Logger
	threshold time.Duration
	now       func() time.Time
}

// NewDetector creates a Detector. A non-positive threshold falls back to
// DefaultStaleThreshold.
func NewDetector(store SweepStore, alerts Evaluator, registry *metrics.Registry, threshold time.Duration, logger zerolog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Detector{
		store:     store,
		alerts:    alerts,
		registry:  registry,
		logger:    logger.With().Str("component", "stale_detector").Logger(),
		threshold: threshold,
		now:       time.Now,
	}
}

// Sweep transitions all stale agents to offline and reports them. The update
// is one statement, so a store failure means nothing was applied and the
// sweep can simply be retried. Already-offline agents are untouched, which
// makes repeated sweeps idempotent.
func (d *Detector) Sweep(ctx context.Context) (*models.SweepResponse, error) {
	cutoff := d.now().Add(-d.threshold)

	swept, err := d.store.MarkStaleAgentsOffline(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale agents offline: %w", err)
	}
	if swept == nil {
		swept = []models.SweptAgent{}
	}

	if len(swept) > 0 {
		d.registry.SweptAgents.Add(float64(len(swept)))
		names := make([]string, 0, len(swept))
		for _, agent := range swept {
			names = append(names, agent.Name)
		}
		d.logger.Info().Int("count", len(swept)).Strs("agents", names).Msg("marked stale agents offline")

		// No current metrics for a silent agent; only offline_alert configs
		// can fire. Config lookup happens inside the engine.
		for _, agent := range swept {
			d.alerts.Evaluate(ctx, agent.ID, agent.Name, models.AgentStatusOffline, nil, nil)
		}
	}

	return &models.SweepResponse{
		Success:       true,
		UpdatedCount:  len(swept),
		UpdatedAgents: swept,
	}, nil
}
