package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// Fleet methods

// CreateFleet inserts a new fleet.
func (db *DB) CreateFleet(ctx context.Context, fleet *models.Fleet) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO fleets (id, name, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, fleet.ID, fleet.Name, fleet.Tier, fleet.CreatedAt, fleet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create fleet: %w", err)
	}
	return nil
}

// GetFleetByName returns the fleet with the given name, or nil when absent.
func (db *DB) GetFleetByName(ctx context.Context, name string) (*models.Fleet, error) {
	var fleet models.Fleet
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, tier, created_at, updated_at
		FROM fleets
		WHERE name = $1
	`, name).Scan(&fleet.ID, &fleet.Name, &fleet.Tier, &fleet.CreatedAt, &fleet.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fleet by name: %w", err)
	}
	return &fleet, nil
}

// Agent methods

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO agents (id, fleet_id, name, encrypted_secret, status, policy_profile, gateway_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, agent.ID, agent.FleetID, agent.Name, agent.EncryptedSecret, agent.Status,
		agent.PolicyProfile, agent.GatewayURL, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgentAuth loads the handshake view of an agent, including its fleet's
// tier. Unknown agents are reported as auth.ErrAgentNotFound.
func (db *DB) GetAgentAuth(ctx context.Context, agentID uuid.UUID) (*models.AgentAuth, error) {
	var agent models.AgentAuth
	var tier string
	err := db.Pool.QueryRow(ctx, `
		SELECT a.id, a.fleet_id, a.name, a.encrypted_secret, a.policy_profile, a.gateway_url, f.tier
		FROM agents a
		JOIN fleets f ON f.id = a.fleet_id
		WHERE a.id = $1
	`, agentID).Scan(&agent.ID, &agent.FleetID, &agent.Name, &agent.EncryptedSecret,
		&agent.PolicyProfile, &agent.GatewayURL, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent auth: %w", err)
	}
	agent.Tier = models.NormalizeTier(tier)
	return &agent, nil
}

// GetAgentName returns the agent's display name.
func (db *DB) GetAgentName(ctx context.Context, agentID uuid.UUID) (string, error) {
	var name string
	err := db.Pool.QueryRow(ctx, "SELECT name FROM agents WHERE id = $1", agentID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("get agent name: %w", err)
	}
	return name, nil
}

// UpsertAgentStatuses applies a flush batch of status and metrics updates in
// a single round trip.
func (db *DB) UpsertAgentStatuses(ctx context.Context, updates []models.AgentStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now()
	for _, update := range updates {
		var metricsJSON []byte
		if update.Metrics != nil {
			var err error
			metricsJSON, err = json.Marshal(update.Metrics)
			if err != nil {
				return fmt.Errorf("marshal metrics for agent %s: %w", update.AgentID, err)
			}
		}
		batch.Queue(`
			UPDATE agents
			SET status = $2,
			    last_heartbeat = $3,
			    metrics = COALESCE($4, metrics),
			    updated_at = $5
			WHERE id = $1
		`, update.AgentID, update.Status, update.LastHeartbeat, metricsJSON, now)
	}

	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("apply agent status batch: %w", err)
		}
	}
	return nil
}

// MarkStaleAgentsOffline transitions reporting agents whose last heartbeat
// predates cutoff to offline. One statement, so the sweep is all-or-nothing.
func (db *DB) MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) ([]models.SweptAgent, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE agents
		SET status = 'offline', updated_at = NOW()
		WHERE status IN ('healthy', 'idle')
		  AND last_heartbeat IS NOT NULL
		  AND last_heartbeat < $1
		RETURNING id, name, last_heartbeat
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale agents offline: %w", err)
	}
	defer rows.Close()

	var swept []models.SweptAgent
	for rows.Next() {
		var agent models.SweptAgent
		var lastHeartbeat time.Time
		if err := rows.Scan(&agent.ID, &agent.Name, &lastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan swept agent: %w", err)
		}
		agent.LastHeartbeat = lastHeartbeat.UTC().Format(time.RFC3339)
		swept = append(swept, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swept agents: %w", err)
	}
	return swept, nil
}

// ListAgentMeta loads the gateway's metadata cache view: agent identity,
// fleet tier, persisted counters, and the agent's alert configs with an
// active channel.
func (db *DB) ListAgentMeta(ctx context.Context) ([]models.AgentMeta, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.fleet_id, a.name, f.tier, a.created_at, a.metrics
		FROM agents a
		JOIN fleets f ON f.id = a.fleet_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agent meta: %w", err)
	}
	defer rows.Close()

	var metas []models.AgentMeta
	fleetOf := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var meta models.AgentMeta
		var tier string
		var metricsJSON []byte
		if err := rows.Scan(&meta.ID, &meta.FleetID, &meta.Name, &tier, &meta.CreatedAt, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan agent meta: %w", err)
		}
		meta.Tier = models.NormalizeTier(tier)
		if len(metricsJSON) > 0 {
			var m models.AgentMetrics
			if err := json.Unmarshal(metricsJSON, &m); err == nil {
				meta.TasksCompleted = m.TasksCompleted
				meta.ErrorsCount = m.ErrorsCount
			}
		}
		fleetOf[meta.ID] = meta.FleetID
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent meta: %w", err)
	}

	configs, err := db.listActiveAlertConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range metas {
		// Non-nil even when empty: the cache view always counts as preloaded.
		metas[i].AlertConfigs = []models.AlertConfig{}
		for _, config := range configs {
			if (config.AgentID != nil && *config.AgentID == metas[i].ID) ||
				(config.FleetID != nil && *config.FleetID == metas[i].FleetID) {
				metas[i].AlertConfigs = append(metas[i].AlertConfigs, config)
			}
		}
	}
	return metas, nil
}
