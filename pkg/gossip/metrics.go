package gossip

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gossip task's Prometheus collectors on an isolated
// registry, so cantal metrics never collide with the default global
// registry (same pattern as the rest of the agent's telemetry).
type Metrics struct {
	Registry *prometheus.Registry

	PacketsSentTotal     *prometheus.CounterVec
	PacketsReceivedTotal *prometheus.CounterVec
	DecodeErrorsTotal    prometheus.Counter
	ClusterMismatchTotal prometheus.Counter
	SelfEchoTotal        prometheus.Counter
	KnownPeers           prometheus.Gauge
	RoundtripSeconds     prometheus.Histogram
}

// NewMetrics creates a Metrics instance with every collector
// registered on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		PacketsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cantal_gossip_packets_sent_total",
				Help: "Total gossip packets sent, by kind.",
			},
			[]string{"kind"},
		),
		PacketsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cantal_gossip_packets_received_total",
				Help: "Total gossip packets received, by kind.",
			},
			[]string{"kind"},
		),
		DecodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cantal_gossip_decode_errors_total",
			Help: "Total malformed or truncated packets dropped on receipt.",
		}),
		ClusterMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cantal_gossip_cluster_mismatch_total",
			Help: "Total packets dropped for a mismatched cluster name.",
		}),
		SelfEchoTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cantal_gossip_self_echo_total",
			Help: "Total packets dropped because they originated from this host.",
		}),
		KnownPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cantal_gossip_known_peers",
			Help: "Number of peers currently in the gossip peer table.",
		}),
		RoundtripSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cantal_gossip_roundtrip_seconds",
			Help:    "Measured ping/pong roundtrip latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
	}

	reg.MustRegister(
		m.PacketsSentTotal,
		m.PacketsReceivedTotal,
		m.DecodeErrorsTotal,
		m.ClusterMismatchTotal,
		m.SelfEchoTotal,
		m.KnownPeers,
		m.RoundtripSeconds,
	)
	return m
}

// Handler serves this registry's metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
