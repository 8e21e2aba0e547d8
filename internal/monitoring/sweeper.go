package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MetricsRetention prunes old metrics history rows.
type MetricsRetention interface {
	CleanupMetricsHistory(ctx context.Context, retentionDays int) (int64, error)
}

// retentionSchedule runs the metrics history cleanup nightly, off-peak.
const retentionSchedule = "0 3 * * *"

// SweepScheduler runs the stale-agent sweep on a cron schedule. It is
// optional: deployments driven by an external scheduler hit the sweep
// endpoint instead and never start this.
type SweepScheduler struct {
	detector      *Detector
	schedule      string
	cron          *cron.Cron
	logger        zerolog.Logger
	retention     MetricsRetention
	retentionDays int
	mu            sync.Mutex
	running       bool
}

// NewSweepScheduler creates a scheduler running the sweep on the given cron
// expression.
func NewSweepScheduler(detector *Detector, schedule string, logger zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		detector: detector,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "sweep_scheduler").Logger(),
	}
}

// EnableRetention adds a nightly metrics history cleanup keeping the last
// retentionDays of rows. Must be called before Start.
func (s *SweepScheduler) EnableRetention(store MetricsRetention, retentionDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = store
	s.retentionDays = retentionDays
}

// Start begins the sweep schedule and, when enabled, the retention schedule.
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweep scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return err
	}
	if s.retention != nil && s.retentionDays > 0 {
		if _, err := s.cron.AddFunc(retentionSchedule, s.runRetention); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("sweep scheduler started")
	return nil
}

// Stop stops the scheduler gracefully. The returned context is done when any
// in-flight sweep has finished.
func (s *SweepScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping sweep scheduler")
	return s.cron.Stop()
}

func (s *SweepScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := s.detector.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
		return
	}
	if result.UpdatedCount > 0 {
		s.logger.Info().Int("updated", result.UpdatedCount).Msg("scheduled sweep completed")
	}
}

func (s *SweepScheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.retention.CleanupMetricsHistory(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("metrics history cleanup failed")
		return
	}
	s.logger.Info().
		Int64("deleted", deleted).
		Int("retention_days", s.retentionDays).
		Msg("metrics history pruned")
}
