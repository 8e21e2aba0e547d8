package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType represents the kind of condition that triggered an alert.
type AlertType string

const (
	// AlertTypeCPU indicates CPU usage exceeded the configured threshold.
	AlertTypeCPU AlertType = "cpu"
	// AlertTypeMemory indicates memory usage exceeded the configured threshold.
	AlertTypeMemory AlertType = "memory"
	// AlertTypeLatency indicates reported latency exceeded the configured threshold.
	AlertTypeLatency AlertType = "latency"
	// AlertTypeOffline indicates an agent stopped heartbeating.
	AlertTypeOffline AlertType = "offline"
	// AlertTypeError indicates an agent reported an internal error.
	AlertTypeError AlertType = "error"
)

// Alert is a triggered alert instance. Alerts are created by the alert engine
// and only ever move from created to resolved; resolution is an explicit
// external action.
type Alert struct {
	ID         uuid.UUID  `json:"id"`
	AgentID    uuid.UUID  `json:"agent_id"`
	AgentName  string     `json:"agent_name"`
	Type       AlertType  `json:"type"`
	Message    string     `json:"message"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewAlert creates a new unresolved Alert.
func NewAlert(agentID uuid.UUID, agentName string, alertType AlertType, message string) *Alert {
	return &Alert{
		ID:        uuid.New(),
		AgentID:   agentID,
		AgentName: agentName,
		Type:      alertType,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// ChannelType represents a notification delivery channel kind.
type ChannelType string

const (
	// ChannelTypeSlack delivers alerts to a Slack incoming webhook.
	ChannelTypeSlack ChannelType = "slack"
	// ChannelTypeDiscord delivers alerts to a Discord webhook.
	ChannelTypeDiscord ChannelType = "discord"
	// ChannelTypeWebhook delivers alerts to a generic HTTP webhook.
	ChannelTypeWebhook ChannelType = "webhook"
)

// AlertChannel is a configured notification destination.
type AlertChannel struct {
	ID         uuid.UUID   `json:"id"`
	Type       ChannelType `json:"type"`
	WebhookURL string      `json:"webhook_url"`
	Secret     string      `json:"-"`
	Active     bool        `json:"active"`
}

// AlertConfig holds per-agent or per-fleet alert thresholds and toggles.
// Exactly one of AgentID/FleetID is set; at most one active config exists per
// (target, channel) pair.
type AlertConfig struct {
	ID               uuid.UUID     `json:"id"`
	AgentID          *uuid.UUID    `json:"agent_id,omitempty"`
	FleetID          *uuid.UUID    `json:"fleet_id,omitempty"`
	CPUThreshold     float64       `json:"cpu_threshold"`
	MemThreshold     float64       `json:"mem_threshold"`
	LatencyThreshold float64       `json:"latency_threshold"`
	OfflineAlert     bool          `json:"offline_alert"`
	ErrorAlert       bool          `json:"error_alert"`
	CooldownMinutes  int           `json:"cooldown_minutes"`
	Channel          *AlertChannel `json:"channel,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Cooldown returns the configured cooldown as a duration, defaulting to one
// hour when unset.
func (c *AlertConfig) Cooldown() time.Duration {
	if c.CooldownMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.CooldownMinutes) * time.Minute
}
