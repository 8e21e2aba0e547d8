// Package metrics exposes Prometheus instrumentation for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector used by the control plane.
// Components receive it by pointer and increment what they own.
type Registry struct {
	prom *prometheus.Registry

	HeartbeatsReceived  prometheus.Counter
	HeartbeatsMalformed prometheus.Counter

	FlushDuration prometheus.Histogram
	FlushedAgents prometheus.Counter
	FlushFailures prometheus.Counter
	FlushSkipped  prometheus.Counter

	RateLimitRejected *prometheus.CounterVec
	RateLimitFailOpen prometheus.Counter

	HandshakeAttempts *prometheus.CounterVec

	AlertsDispatched *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter

	SweptAgents prometheus.Counter
}

// New creates a Registry with all collectors registered against reg.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		prom: reg,
		HeartbeatsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_heartbeats_received_total",
			Help: "Heartbeats accepted by the telemetry gateway.",
		}),
		HeartbeatsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_heartbeats_malformed_total",
			Help: "Heartbeat messages rejected as malformed.",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clawtrace_flush_duration_seconds",
			Help:    "Duration of heartbeat buffer flush cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		FlushedAgents: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_flushed_agents_total",
			Help: "Buffered agent snapshots persisted by flush cycles.",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_flush_failures_total",
			Help: "Flush cycles that failed and dropped their snapshot batch.",
		}),
		FlushSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_flush_skipped_total",
			Help: "Flush timer fires skipped because a previous flush was still running.",
		}),
		RateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawtrace_ratelimit_rejected_total",
			Help: "Requests rejected by the token-bucket rate limiter.",
		}, []string{"route"}),
		RateLimitFailOpen: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_ratelimit_fail_open_total",
			Help: "Rate limit checks allowed because the bucket store was unreachable.",
		}),
		HandshakeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawtrace_handshake_attempts_total",
			Help: "Handshake attempts by auth method and outcome.",
		}, []string{"method", "outcome"}),
		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawtrace_alerts_dispatched_total",
			Help: "Alerts created and forwarded to a notification channel.",
		}, []string{"type"}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_alerts_suppressed_total",
			Help: "Alert triggers suppressed by the cooldown window.",
		}),
		SweptAgents: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawtrace_swept_agents_total",
			Help: "Agents transitioned to offline by the stale sweep.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
