package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier represents a billing tier. Tiers drive rate-limit budgets and heartbeat
// interval floors.
type Tier string

const (
	// TierFree is the default tier for new fleets.
	TierFree Tier = "free"
	// TierPro is the paid tier.
	TierPro Tier = "pro"
	// TierEnterprise is the unmetered tier.
	TierEnterprise Tier = "enterprise"
)

// NormalizeTier maps unknown or empty tier strings to the free tier.
func NormalizeTier(s string) Tier {
	switch Tier(s) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Fleet is a named group of agents.
type Fleet struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFleet creates a new free-tier Fleet.
func NewFleet(name string) *Fleet {
	now := time.Now()
	return &Fleet{
		ID:        uuid.New(),
		Name:      name,
		Tier:      TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
