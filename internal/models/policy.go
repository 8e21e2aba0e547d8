package models

import (
	"time"

	"github.com/google/uuid"
)

// Guardrails bound what an agent may do under a policy profile.
type Guardrails struct {
	BudgetLimitUSD      float64  `json:"budget_limit_usd"`
	ApprovedTools       []string `json:"approved_tools"`
	MaxExecutionTimeSec int      `json:"max_execution_time_sec"`
}

// PolicyProfile is a capability/interval template resolved during handshake.
// Built-in profiles live in the policy package; enterprise fleets may store
// custom profiles.
type PolicyProfile struct {
	Name              string     `json:"name"`
	Label             string     `json:"label"`
	Description       string     `json:"description,omitempty"`
	Skills            []string   `json:"skills,omitempty"`
	Tools             []string   `json:"tools,omitempty"`
	DataAccess        string     `json:"data_access,omitempty"`
	HeartbeatInterval int        `json:"heartbeat_interval"`
	Guardrails        Guardrails `json:"guardrails"`
}

// Interval returns the heartbeat interval as a duration.
func (p *PolicyProfile) Interval() time.Duration {
	return time.Duration(p.HeartbeatInterval) * time.Second
}

// CustomPolicy is a fleet-defined policy profile record.
type CustomPolicy struct {
	ID      uuid.UUID     `json:"id"`
	FleetID uuid.UUID     `json:"fleet_id"`
	Profile PolicyProfile `json:"profile"`
	Active  bool          `json:"active"`
}
