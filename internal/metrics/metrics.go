// Package metrics exposes the reporting pipeline's operational counters as
// Prometheus collectors, grounded on the teacher's go.mod carrying
// github.com/prometheus/client_golang for its own server-side metrics
// surface (vishal7kumar-minio), adapted here to the delivery pipeline's
// dispatched/dropped/rate-limited/queue-depth vocabulary (§9).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this package registers. Construct with New
// and register once per process with a *prometheus.Registry (or the default
// registerer).
type Metrics struct {
	Dispatched   *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	RateLimited  *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec
	DispatchTime prometheus.Histogram
}

// New constructs the collector set. namespace, if non-empty, prefixes every
// metric name (e.g. "beacon").
func New(namespace string) *Metrics {
	return &Metrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "dispatched_total",
			Help:      "Reports successfully delivered to the ingestion endpoint, by logger.",
		}, []string{"logger"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "dropped_total",
			Help:      "Reports dropped by the controller (deadline, MaxItems cap, permanent failure), by logger and reason. Queue-overflow evictions are not counted.",
		}, []string{"logger", "reason"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "rate_limited_total",
			Help:      "Dispatch attempts deferred by the per-token sliding window or a 429 response.",
		}, []string{"logger"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "queue_depth",
			Help:      "Current number of payloads resident in a logger's queue.",
		}, []string{"logger"}),
		DispatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "dispatch_seconds",
			Help:      "Latency of a single HTTP POST to the ingestion endpoint.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector with reg (use prometheus.DefaultRegisterer
// for the global registry). Panics on a duplicate registration, matching
// prometheus.MustRegister's usual contract.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Dispatched, m.Dropped, m.RateLimited, m.QueueDepth, m.DispatchTime)
}
