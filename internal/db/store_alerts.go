package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

const alertConfigColumns = `
	c.id, c.agent_id, c.fleet_id,
	c.cpu_threshold, c.mem_threshold, c.latency_threshold,
	c.offline_alert, c.error_alert, c.cooldown_minutes,
	c.created_at, c.updated_at,
	ch.id, ch.type, ch.webhook_url, ch.secret, ch.active`

func scanAlertConfig(row interface{ Scan(...any) error }) (models.AlertConfig, error) {
	var config models.AlertConfig
	var chID *uuid.UUID
	var chType, chURL, chSecret *string
	var chActive *bool

	err := row.Scan(
		&config.ID, &config.AgentID, &config.FleetID,
		&config.CPUThreshold, &config.MemThreshold, &config.LatencyThreshold,
		&config.OfflineAlert, &config.ErrorAlert, &config.CooldownMinutes,
		&config.CreatedAt, &config.UpdatedAt,
		&chID, &chType, &chURL, &chSecret, &chActive,
	)
	if err != nil {
		return config, err
	}
	if chID != nil {
		config.Channel = &models.AlertChannel{
			ID:         *chID,
			Type:       models.ChannelType(*chType),
			WebhookURL: *chURL,
			Secret:     *chSecret,
			Active:     *chActive,
		}
	}
	return config, nil
}

// GetAlertConfigs returns the agent's alert configs that have an active
// channel, including fleet-wide configs covering it.
func (db *DB) GetAlertConfigs(ctx context.Context, agentID uuid.UUID) ([]models.AlertConfig, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT`+alertConfigColumns+`
		FROM alert_configs c
		JOIN alert_channels ch ON ch.id = c.channel_id AND ch.active
		WHERE c.agent_id = $1
		   OR c.fleet_id = (SELECT fleet_id FROM agents WHERE id = $1)
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("get alert configs: %w", err)
	}
	defer rows.Close()

	var configs []models.AlertConfig
	for rows.Next() {
		config, err := scanAlertConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert configs: %w", err)
	}
	return configs, nil
}

// listActiveAlertConfigs returns every config with an active channel, used to
// build the gateway's metadata cache.
func (db *DB) listActiveAlertConfigs(ctx context.Context) ([]models.AlertConfig, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT`+alertConfigColumns+`
		FROM alert_configs c
		JOIN alert_channels ch ON ch.id = c.channel_id AND ch.active
	`)
	if err != nil {
		return nil, fmt.Errorf("list alert configs: %w", err)
	}
	defer rows.Close()

	var configs []models.AlertConfig
	for rows.Next() {
		config, err := scanAlertConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert configs: %w", err)
	}
	return configs, nil
}

// HasRecentAlert reports whether an alert of the given type fired for the
// agent since the cutoff. This backs the alert cooldown.
func (db *DB) HasRecentAlert(ctx context.Context, agentID uuid.UUID, alertType models.AlertType, since time.Time) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM alerts
			WHERE agent_id = $1 AND type = $2 AND created_at > $3
		)
	`, agentID, alertType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent alert: %w", err)
	}
	return exists, nil
}

// CreateAlert records a triggered alert.
func (db *DB) CreateAlert(ctx context.Context, alert *models.Alert) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO alerts (id, agent_id, agent_name, type, message, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, alert.ID, alert.AgentID, alert.AgentName, alert.Type, alert.Message, alert.Resolved, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}
