package remote

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the connection manager, on
// an isolated registry so a process embedding both pkg/gossip and
// pkg/remote never collides on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsActive      prometheus.Gauge
	ConnectionsEstablished prometheus.Gauge
	ThrottledPeers         prometheus.Gauge
	ConnectAttemptsTotal   prometheus.Counter
	ConnectFailuresTotal   prometheus.Counter
	ConnectionLifetime     prometheus.Histogram
}

// NewMetrics builds a ready-to-register Metrics with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cantal_remote_connections_active",
			Help: "Number of peers currently holding an open or in-flight remote connection.",
		}),
		ConnectionsEstablished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cantal_remote_connections_established",
			Help: "Number of remote connections currently past dial, with a live TCP socket.",
		}),
		ThrottledPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cantal_remote_throttled_peers",
			Help: "Number of peers currently waiting out a reconnect backoff.",
		}),
		ConnectAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cantal_remote_connect_attempts_total",
			Help: "Total outbound connection attempts started.",
		}),
		ConnectFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cantal_remote_connect_failures_total",
			Help: "Total outbound connection attempts that ended in failure.",
		}),
		ConnectionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cantal_remote_connection_lifetime_seconds",
			Help:    "Lifetime of a remote connection from dial to termination.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsEstablished,
		m.ThrottledPeers,
		m.ConnectAttemptsTotal,
		m.ConnectFailuresTotal,
		m.ConnectionLifetime,
	)
	return m
}

// Handler exposes the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
