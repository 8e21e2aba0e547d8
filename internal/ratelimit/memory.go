package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// MemoryStore is an in-process BucketStore for single-node deployments and
// tests. Buckets for unseen keys start full.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take implements BucketStore.
func (s *MemoryStore) Take(_ context.Context, key string, cfg BucketConfig) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: cfg.Capacity, lastRefill: now}
		s.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * cfg.RefillRate
		if b.tokens > cfg.Capacity {
			b.tokens = cfg.Capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	return false, (1 - b.tokens) / cfg.RefillRate, nil
}
