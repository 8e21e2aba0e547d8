package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the current status of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is registered but not reporting work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusHealthy indicates the agent is heartbeating normally.
	AgentStatusHealthy AgentStatus = "healthy"
	// AgentStatusError indicates the agent reported an internal error.
	AgentStatusError AgentStatus = "error"
	// AgentStatusOffline indicates the agent has not heartbeated recently.
	AgentStatusOffline AgentStatus = "offline"
)

// ValidAgentStatus reports whether s is a known agent status.
func ValidAgentStatus(s AgentStatus) bool {
	switch s {
	case AgentStatusIdle, AgentStatusHealthy, AgentStatusError, AgentStatusOffline:
		return true
	}
	return false
}

// AgentMetrics is the latest metrics snapshot reported by an agent.
type AgentMetrics struct {
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	LatencyMS      float64 `json:"latency_ms"`
	UptimeHours    float64 `json:"uptime_hours"`
	TasksCompleted int64   `json:"tasks_completed"`
	ErrorsCount    int64   `json:"errors_count"`
	CostUSD        float64 `json:"cost_usd"`
}

// Agent represents a monitored agent process registered in a fleet.
type Agent struct {
	ID              uuid.UUID     `json:"id"`
	FleetID         uuid.UUID     `json:"fleet_id"`
	Name            string        `json:"name"`
	EncryptedSecret string        `json:"-"`
	Status          AgentStatus   `json:"status"`
	LastHeartbeat   *time.Time    `json:"last_heartbeat,omitempty"`
	PolicyProfile   string        `json:"policy_profile"`
	GatewayURL      string        `json:"gateway_url,omitempty"`
	Metrics         *AgentMetrics `json:"metrics,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewAgent creates a new Agent in a fleet with an encrypted shared secret.
func NewAgent(fleetID uuid.UUID, name, encryptedSecret string) *Agent {
	now := time.Now()
	return &Agent{
		ID:              uuid.New(),
		FleetID:         fleetID,
		Name:            name,
		EncryptedSecret: encryptedSecret,
		Status:          AgentStatusIdle,
		PolicyProfile:   "dev",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AgentAuth is the subset of agent state the handshake path needs. It is loaded
// once per handshake; the heartbeat hot path never touches it.
type AgentAuth struct {
	ID              uuid.UUID
	FleetID         uuid.UUID
	Name            string
	EncryptedSecret string
	PolicyProfile   string
	GatewayURL      string
	Tier            Tier
}

// AgentStatusUpdate is one entry of a batched status/metrics upsert, produced
// by the gateway flush cycle.
type AgentStatusUpdate struct {
	AgentID       uuid.UUID
	Status        AgentStatus
	LastHeartbeat time.Time
	Metrics       *AgentMetrics
}

// AgentMeta is the per-agent state the gateway keeps in memory between cache
// refreshes: identity for alert messages, counters accrued across heartbeats,
// and the agent's active alert configs preloaded off the hot path.
type AgentMeta struct {
	ID             uuid.UUID
	FleetID        uuid.UUID
	Name           string
	Tier           Tier
	CreatedAt      time.Time
	TasksCompleted int64
	ErrorsCount    int64
	AlertConfigs   []AlertConfig
}
