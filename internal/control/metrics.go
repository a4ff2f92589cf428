package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the control API itself
// (not the gossip/remote subsystems it reports on), on an isolated
// registry like its siblings in pkg/gossip and pkg/remote.
type Metrics struct {
	Registry      *prometheus.Registry
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics builds a ready-to-register Metrics with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cantal_control_requests_total",
			Help: "Total control API requests, by path and status code.",
		}, []string{"path", "status"}),
	}
	reg.MustRegister(m.RequestsTotal)
	return m
}
