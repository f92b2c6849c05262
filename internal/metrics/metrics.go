// ABOUTME: Prometheus instrumentation for the broker.
// ABOUTME: Per-instance registry so tests can construct isolated metrics.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcome label values.
const (
	OutcomeCompleted  = "completed"
	OutcomeTimeout    = "timeout"
	OutcomeDisconnect = "disconnect"
	OutcomeWriteError = "write_error"
	OutcomeNoAgents   = "no_agents"
)

// Metrics holds the broker's Prometheus collectors. Each instance owns
// its registry, so multiple brokers (or tests) never collide on
// registration.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedAgents    prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	FramesRejected     prometheus.Counter
	UnmatchedResponses prometheus.Counter
}

// New creates a Metrics instance. An empty namespace defaults to
// "tunnelgate".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tunnelgate"
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ConnectedAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_agents",
			Help:      "Number of currently connected agents",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		FramesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Tunnel frames rejected for exceeding the size cap",
		}),
		UnmatchedResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_responses_total",
			Help:      "Response envelopes with no pending request",
		}),
	}
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
