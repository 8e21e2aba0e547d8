package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

const (
	// DefaultFlushInterval is how often buffered heartbeats are persisted.
	DefaultFlushInterval = 10 * time.Second
	// DefaultFlushTimeout bounds a single flush cycle's store calls.
	DefaultFlushTimeout = 30 * time.Second
)

// FlushStore persists a drained heartbeat batch.
type FlushStore interface {
	// UpsertAgentStatuses applies status, last_heartbeat and metrics snapshot
	// updates for a batch of agents.
	UpsertAgentStatuses(ctx context.Context, updates []models.AgentStatusUpdate) error
	// InsertMetricsHistory appends time-series rows for the updates that
	// carried metrics.
	InsertMetricsHistory(ctx context.Context, updates []models.AgentStatusUpdate) error
}

// Flusher periodically drains the heartbeat buffer into the store. Flushes
// are single-flight: if a cycle is still running when the ticker fires again,
// the new tick is skipped rather than stacking a second flush.
type Flusher struct {
	buffer   *HeartbeatBuffer
	store    FlushStore
	registry *metrics.Registry
	logger   zerolog.Logger
	interval time.Duration
	timeout  time.Duration

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFlusher creates a Flusher. Non-positive interval or timeout fall back to
// the defaults.
func NewFlusher(buffer *HeartbeatBuffer, store FlushStore, registry *metrics.Registry, interval, timeout time.Duration, logger zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	return &Flusher{
		buffer:   buffer,
		store:    store,
		registry: registry,
		logger:   logger.With().Str("component", "flusher").Logger(),
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the flush loop.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	f.running = true

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.tick()
			case <-f.stop:
				return
			}
		}
	}()
}

// Stop halts the flush loop and runs one final drain so shutdown does not
// lose the last interval's heartbeats.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	close(f.stop)
	<-f.done
	f.running = false

	// A tick-spawned flush may still be running against a slow store. Wait it
	// out so the final drain never overlaps it and writes stay ordered.
	f.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	f.Flush(ctx)
}

func (f *Flusher) tick() {
	if !f.inFlight.CompareAndSwap(false, true) {
		// Previous flush still running, likely a slow store. Skip this tick;
		// the buffer keeps coalescing in the meantime.
		f.registry.FlushSkipped.Inc()
		f.logger.Warn().Msg("flush still in progress, skipping tick")
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.inFlight.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		f.Flush(ctx)
	}()
}

// Flush drains the buffer and persists the batch. A store failure drops the
// drained batch; the next cycle carries fresh data.
func (f *Flusher) Flush(ctx context.Context) {
	batch := f.buffer.Swap()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	updates := make([]models.AgentStatusUpdate, 0, len(batch))
	withMetrics := make([]models.AgentStatusUpdate, 0, len(batch))
	for _, update := range batch {
		updates = append(updates, update)
		if update.Metrics != nil {
			withMetrics = append(withMetrics, update)
		}
	}

	if err := f.store.UpsertAgentStatuses(ctx, updates); err != nil {
		f.registry.FlushFailures.Inc()
		f.logger.Error().Err(err).Int("agents", len(updates)).Msg("flush failed, dropping batch")
		return
	}
	if len(withMetrics) > 0 {
		if err := f.store.InsertMetricsHistory(ctx, withMetrics); err != nil {
			f.registry.FlushFailures.Inc()
			f.logger.Error().Err(err).Int("rows", len(withMetrics)).Msg("metrics history insert failed")
			return
		}
	}

	f.registry.FlushedAgents.Add(float64(len(updates)))
	f.registry.FlushDuration.Observe(time.Since(start).Seconds())
	f.logger.Debug().
		Int("agents", len(updates)).
		Int("metric_rows", len(withMetrics)).
		Dur("took", time.Since(start)).
		Msg("heartbeat batch flushed")
}
