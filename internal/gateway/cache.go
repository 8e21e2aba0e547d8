package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// DefaultCacheRefresh is how often the gateway reloads agent metadata and
// alert configs from the database.
const DefaultCacheRefresh = 5 * time.Minute

// DefaultCostPerTask is the accrued cost per completed task when no model
// pricing applies.
const DefaultCostPerTask = 0.01

// MetaStore loads the agent metadata the gateway caches between refreshes.
type MetaStore interface {
	ListAgentMeta(ctx context.Context) ([]models.AgentMeta, error)
}

// MetaCache keeps per-agent metadata in memory so the heartbeat hot path
// never queries the database. Task and error counters accrue here between
// refreshes; a refresh rebases them on what the last flush persisted.
type MetaCache struct {
	store    MetaStore
	logger   zerolog.Logger
	interval time.Duration

	mu     sync.RWMutex
	agents map[uuid.UUID]*models.AgentMeta

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMetaCache creates a MetaCache. A non-positive interval falls back to
// DefaultCacheRefresh.
func NewMetaCache(store MetaStore, interval time.Duration, logger zerolog.Logger) *MetaCache {
	if interval <= 0 {
		interval = DefaultCacheRefresh
	}
	return &MetaCache{
		store:    store,
		logger:   logger.With().Str("component", "meta_cache").Logger(),
		interval: interval,
		agents:   make(map[uuid.UUID]*models.AgentMeta),
	}
}

// Refresh reloads the cache from the store.
func (c *MetaCache) Refresh(ctx context.Context) error {
	metas, err := c.store.ListAgentMeta(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[uuid.UUID]*models.AgentMeta, len(metas))
	for i := range metas {
		m := metas[i]
		// An agent with no configs is still preloaded. A nil slice would make
		// the alert engine fall back to a per-heartbeat store lookup.
		if m.AlertConfigs == nil {
			m.AlertConfigs = []models.AlertConfig{}
		}
		fresh[m.ID] = &m
	}

	c.mu.Lock()
	c.agents = fresh
	c.mu.Unlock()

	c.logger.Debug().Int("agents", len(fresh)).Msg("agent metadata cache refreshed")
	return nil
}

// Start launches the periodic refresh loop. The initial load happens
// synchronously so the gateway starts warm.
func (c *MetaCache) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return nil
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := c.Refresh(refreshCtx); err != nil {
					// Stale cache beats no cache; keep serving the old view.
					c.logger.Error().Err(err).Msg("agent metadata refresh failed")
				}
				cancel()
			case <-c.stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts the refresh loop.
func (c *MetaCache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	close(c.stop)
	<-c.done
	c.running = false
}

// Lookup returns a copy of the cached metadata for an agent.
func (c *MetaCache) Lookup(agentID uuid.UUID) (models.AgentMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.agents[agentID]
	if !ok {
		return models.AgentMeta{}, false
	}
	return *meta, true
}

// Accrual is the derived per-heartbeat bookkeeping folded into a metrics
// snapshot before buffering.
type Accrual struct {
	TasksCompleted int64
	ErrorsCount    int64
	CostUSD        float64
	UptimeHours    float64
}

// Accrue advances the agent's task counter by one heartbeat, counts an error
// when the reported status is error, and returns the resulting totals.
func (c *MetaCache) Accrue(agentID uuid.UUID, status models.AgentStatus, now time.Time) (Accrual, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.agents[agentID]
	if !ok {
		return Accrual{}, false
	}

	meta.TasksCompleted++
	if status == models.AgentStatusError {
		meta.ErrorsCount++
	}

	return Accrual{
		TasksCompleted: meta.TasksCompleted,
		ErrorsCount:    meta.ErrorsCount,
		CostUSD:        float64(meta.TasksCompleted) * DefaultCostPerTask,
		UptimeHours:    now.Sub(meta.CreatedAt).Truncate(time.Hour).Hours(),
	}, true
}
