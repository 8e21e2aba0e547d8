// Package monitoring implements threshold alerting and stale-agent detection.
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

// AlertStore is the persistence surface of the alert engine.
type AlertStore interface {
	// GetAlertConfigs returns the agent's alert configs whose channel is
	// active, including fleet-wide configs covering the agent.
	GetAlertConfigs(ctx context.Context, agentID uuid.UUID) ([]models.AlertConfig, error)
	// HasRecentAlert reports whether an alert of the given type fired for the
	// agent since the cutoff.
	HasRecentAlert(ctx context.Context, agentID uuid.UUID, alertType models.AlertType, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAgentName(ctx context.Context, agentID uuid.UUID) (string, error)
}

// ChannelSender delivers a triggered alert to an external channel.
type ChannelSender interface {
	Send(ctx context.Context, channel *models.AlertChannel, alert *models.Alert, m *models.AgentMetrics) error
}

// Engine evaluates heartbeats and status transitions against alert configs.
// Evaluation never returns an error to callers: failures are logged and the
// triggering heartbeat is unaffected.
type Engine struct {
	store    AlertStore
	sender   ChannelSender
	registry *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an alert Engine.
func NewEngine(store AlertStore, sender ChannelSender, registry *metrics.Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		sender:   sender,
		registry: registry,
		logger:   logger.With().Str("component", "alerts").Logger(),
		now:      time.Now,
	}
}

// Evaluate checks the agent's state against its alert configs and fires
// matching alerts. Pass preloaded configs to keep the lookup off the hot
// path; a nil slice makes the engine fetch them itself.
func (e *Engine) Evaluate(ctx context.Context, agentID uuid.UUID, agentName string, status models.AgentStatus, m *models.AgentMetrics, configs []models.AlertConfig) {
	if configs == nil {
		loaded, err := e.store.GetAlertConfigs(ctx, agentID)
		if err != nil {
			e.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("alert config lookup failed")
			return
		}
		configs = loaded
	}
	if len(configs) == 0 {
		return
	}

	for i := range configs {
		e.evaluateConfig(ctx, &configs[i], agentID, agentName, status, m)
	}
}

func (e *Engine) evaluateConfig(ctx context.Context, config *models.AlertConfig, agentID uuid.UUID, agentName string, status models.AgentStatus, m *models.AgentMetrics) {
	alertType, message, triggered := matchRule(config, status, m)
	if !triggered {
		return
	}

	// Cooldown: the most recent alert of the same type within the window
	// suppresses a re-fire.
	cutoff := e.now().Add(-config.Cooldown())
	recent, err := e.store.HasRecentAlert(ctx, agentID, alertType, cutoff)
	if err != nil {
		e.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("cooldown check failed")
		return
	}
	if recent {
		e.registry.AlertsSuppressed.Inc()
		return
	}

	if agentName == "" {
		name, err := e.store.GetAgentName(ctx, agentID)
		if err != nil {
			e.logger.Warn().Err(err).Str("agent_id", agentID.String()).Msg("agent name lookup failed")
			name = "Unknown Agent"
		}
		agentName = name
	}

	alert := models.NewAlert(agentID, agentName, alertType, message)
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		e.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("create alert failed")
		return
	}
	e.registry.AlertsDispatched.WithLabelValues(string(alertType)).Inc()

	if config.Channel == nil || !config.Channel.Active {
		return
	}
	if err := e.sender.Send(ctx, config.Channel, alert, m); err != nil {
		e.logger.Error().Err(err).
			Str("agent_id", agentID.String()).
			Str("channel", string(config.Channel.Type)).
			Msg("alert channel delivery failed")
	}
}

// matchRule returns the first rule the state trips. Status rules take
// precedence over metric thresholds; metric rules never fire for an offline
// agent. Thresholds are strict: a value exactly at the limit does not fire.
func matchRule(config *models.AlertConfig, status models.AgentStatus, m *models.AgentMetrics) (models.AlertType, string, bool) {
	if config.OfflineAlert && status == models.AgentStatusOffline {
		return models.AlertTypeOffline, "Agent went offline", true
	}
	if config.ErrorAlert && status == models.AgentStatusError {
		return models.AlertTypeError, "Agent reported an internal error", true
	}

	if m == nil || status == models.AgentStatusOffline {
		return "", "", false
	}
	if config.CPUThreshold > 0 && m.CPUUsage > config.CPUThreshold {
		return models.AlertTypeCPU,
			fmt.Sprintf("CPU usage exceeded threshold: %.1f%% (limit: %.1f%%)", m.CPUUsage, config.CPUThreshold),
			true
	}
	if config.MemThreshold > 0 && m.MemoryUsage > config.MemThreshold {
		return models.AlertTypeMemory,
			fmt.Sprintf("Memory usage exceeded threshold: %.1f%% (limit: %.1f%%)", m.MemoryUsage, config.MemThreshold),
			true
	}
	if config.LatencyThreshold > 0 && m.LatencyMS > config.LatencyThreshold {
		return models.AlertTypeLatency,
			fmt.Sprintf("Latency exceeded threshold: %.0fms (limit: %.0fms)", m.LatencyMS, config.LatencyThreshold),
			true
	}
	return "", "", false
}
