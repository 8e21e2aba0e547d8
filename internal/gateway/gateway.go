package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

// ErrInvalidStatus indicates a heartbeat carrying an unknown agent status.
var ErrInvalidStatus = errors.New("invalid agent status")

// AlertSink receives heartbeat-driven alert evaluations. Evaluation is
// fire-and-forget; the gateway never waits on it.
type AlertSink interface {
	Evaluate(ctx context.Context, agentID uuid.UUID, agentName string, status models.AgentStatus, m *models.AgentMetrics, configs []models.AlertConfig)
}

// Gateway is the telemetry ingestion service. Heartbeat handling is designed
// to stay off the database: credentials are verified statelessly, metadata
// comes from the cache, and writes land in the buffer.
type Gateway struct {
	issuer   *auth.TokenIssuer
	buffer   *HeartbeatBuffer
	cache    *MetaCache
	alerts   AlertSink
	limiter  *ratelimit.Limiter
	registry *metrics.Registry
	logger   zerolog.Logger
}

// NewGateway creates a Gateway. The limiter charges the tier-scoped
// heartbeat bucket per agent; nil disables that check.
func NewGateway(issuer *auth.TokenIssuer, buffer *HeartbeatBuffer, cache *MetaCache, alerts AlertSink, limiter *ratelimit.Limiter, registry *metrics.Registry, logger zerolog.Logger) *Gateway {
	return &Gateway{
		issuer:   issuer,
		buffer:   buffer,
		cache:    cache,
		alerts:   alerts,
		limiter:  limiter,
		registry: registry,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Authenticate verifies a session token and returns the agent it belongs to.
func (g *Gateway) Authenticate(token string) (uuid.UUID, error) {
	claims, err := g.issuer.Verify(token)
	if err != nil {
		return uuid.Nil, err
	}
	agentID, err := claims.AgentUUID()
	if err != nil {
		return uuid.Nil, auth.ErrInvalidToken
	}
	return agentID, nil
}

// HandleHeartbeat ingests one authenticated heartbeat: accrues bookkeeping,
// buffers the snapshot, and kicks off alert evaluation. The returned ack
// carries the server-side processing latency.
func (g *Gateway) HandleHeartbeat(ctx context.Context, agentID uuid.UUID, status models.AgentStatus, m *models.AgentMetrics) (*models.HeartbeatAck, error) {
	start := time.Now()

	if status == "" {
		status = models.AgentStatusHealthy
	}
	if !models.ValidAgentStatus(status) {
		g.registry.HeartbeatsMalformed.Inc()
		return nil, ErrInvalidStatus
	}

	meta, known := g.cache.Lookup(agentID)

	tier := models.TierFree
	if known {
		tier = meta.Tier
	}
	if g.limiter != nil {
		result := g.limiter.Check(ctx, agentID.String(), ratelimit.RouteHeartbeat, tier)
		if err := result.DeniedError(); err != nil {
			return nil, err
		}
	}

	if m != nil {
		snapshot := *m
		if accrual, ok := g.cache.Accrue(agentID, status, start); ok {
			snapshot.TasksCompleted = accrual.TasksCompleted
			snapshot.ErrorsCount = accrual.ErrorsCount
			snapshot.CostUSD = accrual.CostUSD
			snapshot.UptimeHours = accrual.UptimeHours
		}
		m = &snapshot
	}

	g.buffer.Put(models.AgentStatusUpdate{
		AgentID:       agentID,
		Status:        status,
		LastHeartbeat: start,
		Metrics:       m,
	})
	g.registry.HeartbeatsReceived.Inc()

	// Alert evaluation runs detached from the request: a slow notification
	// channel must not delay the ack.
	if m != nil && known {
		go g.alerts.Evaluate(context.WithoutCancel(ctx), agentID, meta.Name, status, m, meta.AlertConfigs)
	}

	return &models.HeartbeatAck{
		Ack:       true,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
