// Package metrics exposes the gateway's runtime counters as Prometheus
// collectors, registered on a dedicated Registry rather than the global
// default so cmd/gateway controls exactly what /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the gateway's collectors. cmd/gateway updates
// ConnectionsActive, ConnectionsTotal and DispatchDuration; BytesSent,
// BytesReceived, RateLimitedTotal and HandshakesTotal are registered and
// exported, but no code in this module increments them.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	BytesSent         *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	RateLimitedTotal  prometheus.Counter
	HandshakesTotal   *prometheus.CounterVec
}

// New builds and registers every collector on a fresh Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of connections currently registered with the connection manager.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of connections accepted since startup.",
		}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bytes_sent_total",
			Help: "Bytes written to connections, labeled by endpoint.",
		}, []string{"endpoint"}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bytes_received_total",
			Help: "Bytes read from connections, labeled by endpoint.",
		}, []string{"endpoint"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Handler execution latency, labeled by opcode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"opcode"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total number of requests denied by the bandwidth limiter.",
		}),
		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_handshakes_total",
			Help: "Total handshake attempts, labeled by result (ok, failed).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.BytesSent,
		m.BytesReceived,
		m.DispatchDuration,
		m.RateLimitedTotal,
		m.HandshakesTotal,
	)
	return m
}
