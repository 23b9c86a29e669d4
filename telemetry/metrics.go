package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms for requests, object writes and
// GC. Only httpapi records into them; nothing in this module increments the
// GC counters. A single instance is constructed at startup and
// registered with a prometheus.Registry (or the default one) by the caller.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPLatencySecs   *prometheus.HistogramVec
	InvocationResults *prometheus.CounterVec
	ObjectBytesWritten prometheus.Counter
	GCBlocksSwept     prometheus.Counter
	GCBytesReclaimed  prometheus.Counter
}

// NewMetrics constructs and registers Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the Kepler host, by route and status.",
		}, []string{"route", "status"}),
		HTTPLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kepler",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		InvocationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "invocation_results_total",
			Help:      "Invocation verification outcomes by action and result kind.",
		}, []string{"action", "kind"}),
		ObjectBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "object_bytes_written_total",
			Help:      "Bytes committed to the block store via object puts.",
		}),
		GCBlocksSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "gc_blocks_swept_total",
			Help:      "Blocks removed from the block store by garbage collection.",
		}),
		GCBytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "gc_bytes_reclaimed_total",
			Help:      "Bytes reclaimed by garbage collection.",
		}),
	}
	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPLatencySecs,
		m.InvocationResults,
		m.ObjectBytesWritten,
		m.GCBlocksSwept,
		m.GCBytesReclaimed,
	)
	return m
}
