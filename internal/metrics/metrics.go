// Package metrics defines the gateway's Prometheus collectors. A single
// Metrics value is shared by the session manager and the HTTP router; the
// binary decides whether to expose it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the gateway emits.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  prometheus.Counter
	SessionsDeleted  prometheus.Counter
	RequestsRejected *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// New constructs the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid default-registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_gateway_sessions_active",
			Help: "Number of sessions with a durable record.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_gateway_sessions_created_total",
			Help: "Sessions created by initialize requests.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_gateway_sessions_evicted_total",
			Help: "Sessions evicted by the capacity policy.",
		}),
		SessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_gateway_sessions_deleted_total",
			Help: "Sessions removed by explicit deletion.",
		}),
		RequestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_requests_rejected_total",
			Help: "Requests rejected before dispatch, by reason.",
		}, []string{"reason"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_gateway_persist_failures_total",
			Help: "Write-through persistence failures (non-fatal).",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_gateway_request_duration_seconds",
			Help:    "Wall time of HTTP requests against the MCP endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsEvicted,
		m.SessionsDeleted,
		m.RequestsRejected,
		m.PersistFailures,
		m.RequestDuration,
	)
	return m
}

// NewNop returns collectors registered nowhere; useful as a default so callers
// never nil-check.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
