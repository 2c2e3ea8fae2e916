package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the server's Prometheus metric set. Construct one per
// registry; passing nil registers on the default registry.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ConnectionsActive   prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram

	ParseErrors *prometheus.CounterVec
}

// NewMetrics registers the metric set on reg under the "filament"
// namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Connections rejected because the concurrency cap was reached",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently being served",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests served, labeled by status class",
		}, []string{"class"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time from request completion of parse to response flush",
			Buckets:   prometheus.DefBuckets,
		}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "parse_errors_total",
			Help:      "Requests rejected before dispatch, labeled by status",
		}, []string{"status"}),
	}
}
