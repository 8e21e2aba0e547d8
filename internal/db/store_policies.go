package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// GetCustomPolicy returns the fleet's custom policy with the given name, or
// nil when the fleet has none.
func (db *DB) GetCustomPolicy(ctx context.Context, fleetID uuid.UUID, name string) (*models.CustomPolicy, error) {
	var policy models.CustomPolicy
	var profileJSON []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT id, fleet_id, profile, active
		FROM custom_policies
		WHERE fleet_id = $1 AND name = $2
	`, fleetID, name).Scan(&policy.ID, &policy.FleetID, &profileJSON, &policy.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get custom policy: %w", err)
	}
	if err := json.Unmarshal(profileJSON, &policy.Profile); err != nil {
		return nil, fmt.Errorf("decode custom policy profile: %w", err)
	}
	return &policy, nil
}

// UpsertCustomPolicy creates or replaces a fleet's custom policy.
func (db *DB) UpsertCustomPolicy(ctx context.Context, policy *models.CustomPolicy) error {
	profileJSON, err := json.Marshal(policy.Profile)
	if err != nil {
		return fmt.Errorf("encode custom policy profile: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO custom_policies (id, fleet_id, name, profile, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fleet_id, name)
		DO UPDATE SET profile = EXCLUDED.profile, active = EXCLUDED.active
	`, policy.ID, policy.FleetID, policy.Profile.Name, profileJSON, policy.Active)
	if err != nil {
		return fmt.Errorf("upsert custom policy: %w", err)
	}
	return nil
}
