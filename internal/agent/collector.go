package agent

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// Collector gathers system metrics for heartbeat payloads.
type Collector struct {
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Collect gathers current system metrics. Individual probe failures leave the
// corresponding field zero rather than failing the whole collection.
func (c *Collector) Collect(ctx context.Context) *models.AgentMetrics {
	m := &models.AgentMetrics{
		UptimeHours: time.Since(c.startTime).Hours(),
	}

	// CPU usage (average over 1 second)
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}

	// Memory usage
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}

	return m
}
