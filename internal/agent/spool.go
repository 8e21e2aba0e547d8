package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// SpooledHeartbeat is a heartbeat captured while the server was unreachable.
type SpooledHeartbeat struct {
	ID         int64
	Status     models.AgentStatus
	Metrics    *models.AgentMetrics
	RecordedAt time.Time
}

// Spool persists heartbeats locally while the server is unreachable so
// telemetry survives agent restarts and network outages.
type Spool struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSpool opens (or creates) the spool database at path.
func NewSpool(path string, logger zerolog.Logger) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open spool database: %w", err)
	}

	s := &Spool{
		db:     db,
		logger: logger.With().Str("component", "spool").Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate spool database: %w", err)
	}

	return s, nil
}

func (s *Spool) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS spooled_heartbeats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			status TEXT NOT NULL,
			metrics TEXT,
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_spooled_heartbeats_recorded_at ON spooled_heartbeats(recorded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Enqueue stores a heartbeat for later delivery.
func (s *Spool) Enqueue(ctx context.Context, status models.AgentStatus, m *models.AgentMetrics, recordedAt time.Time) error {
	var metricsJSON sql.NullString
	if m != nil {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spooled_heartbeats (status, metrics, recorded_at) VALUES (?, ?, ?)`,
		string(status), metricsJSON, recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert spooled heartbeat: %w", err)
	}
	return nil
}

// Pending returns spooled heartbeats in recording order, oldest first.
func (s *Spool) Pending(ctx context.Context, limit int) ([]SpooledHeartbeat, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, metrics, recorded_at FROM spooled_heartbeats ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query spooled heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []SpooledHeartbeat
	for rows.Next() {
		var (
			beat        SpooledHeartbeat
			status      string
			metricsJSON sql.NullString
			recordedAt  string
		)
		if err := rows.Scan(&beat.ID, &status, &metricsJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan spooled heartbeat: %w", err)
		}
		beat.Status = models.AgentStatus(status)
		if metricsJSON.Valid {
			var m models.AgentMetrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &m); err != nil {
				s.logger.Warn().Int64("id", beat.ID).Err(err).Msg("dropping unreadable spooled metrics")
			} else {
				beat.Metrics = &m
			}
		}
		if ts, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			beat.RecordedAt = ts
		}
		beats = append(beats, beat)
	}

	return beats, rows.Err()
}

// Delete removes a delivered heartbeat from the spool.
func (s *Spool) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spooled_heartbeats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete spooled heartbeat: %w", err)
	}
	return nil
}

// Len returns the number of spooled heartbeats.
func (s *Spool) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spooled_heartbeats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spooled heartbeats: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Spool) Close() error {
	return s.db.Close()
}
