package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// InsertMetricsHistory appends one time-series row per update that carried
// metrics. The fleet_id is resolved in SQL so callers need only the agent id.
func (db *DB) InsertMetricsHistory(ctx context.Context, updates []models.AgentStatusUpdate) error {
	batch := &pgx.Batch{}
	queued := 0
	for _, update := range updates {
		m := update.Metrics
		if m == nil {
			continue
		}
		batch.Queue(`
			INSERT INTO agent_metrics
				(id, agent_id, fleet_id, cpu_usage, memory_usage, latency_ms, uptime_hours, tasks_completed, errors_count, created_at)
			SELECT $1, $2, a.fleet_id, $3, $4, $5, $6, $7, $8, $9
			FROM agents a
			WHERE a.id = $2
		`, uuid.New(), update.AgentID, m.CPUUsage, m.MemoryUsage, m.LatencyMS,
			m.UptimeHours, m.TasksCompleted, m.ErrorsCount, update.LastHeartbeat)
		queued++
	}
	if queued == 0 {
		return nil
	}

	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert metrics history batch: %w", err)
		}
	}
	return nil
}

// CleanupMetricsHistory deletes time-series rows older than retentionDays.
func (db *DB) CleanupMetricsHistory(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM agent_metrics
		WHERE created_at < NOW() - ($1 || ' days')::INTERVAL
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics history: %w", err)
	}
	return tag.RowsAffected(), nil
}
