// Package gateway implements the telemetry ingestion hot path: heartbeat
// intake over HTTP and WebSocket, write coalescing, and the periodic flush to
// the database.
package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// HeartbeatBuffer coalesces heartbeat writes between flush cycles. Only the
// latest snapshot per agent survives; heartbeats arriving faster than the
// flush interval overwrite each other.
type HeartbeatBuffer struct {
	mu      sync.Mutex
	entries map[uuid.UUID]models.AgentStatusUpdate
}

// NewHeartbeatBuffer creates an empty buffer.
func NewHeartbeatBuffer() *HeartbeatBuffer {
	return &HeartbeatBuffer{entries: make(map[uuid.UUID]models.AgentStatusUpdate)}
}

// Put records the latest snapshot for an agent.
func (b *HeartbeatBuffer) Put(update models.AgentStatusUpdate) {
	b.mu.Lock()
	b.entries[update.AgentID] = update
	b.mu.Unlock()
}

// Swap drains the buffer and returns the drained entries. Ownership of the
// returned map transfers to the caller; heartbeats arriving during a flush
// land in the fresh map.
func (b *HeartbeatBuffer) Swap() map[uuid.UUID]models.AgentStatusUpdate {
	b.mu.Lock()
	drained := b.entries
	b.entries = make(map[uuid.UUID]models.AgentStatusUpdate)
	b.mu.Unlock()
	return drained
}

// Len returns the number of buffered agents.
func (b *HeartbeatBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
