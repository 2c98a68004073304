// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters and gauges, registered via promauto and scraped from the
// query service's /metrics endpoint.

var (
	// QueueDepth tracks the current number of buffered events in the
	// ingestion queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capgraph_queue_depth",
		Help: "Current number of events buffered in the ingestion queue",
	})

	// QueueDrops counts events evicted under the drop-oldest backpressure
	// policy.
	QueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgraph_queue_drops_total",
		Help: "Total events dropped by the ingestion queue under backpressure",
	})

	// EventRejections counts dropped inbound events by reason
	// (validation, ordering).
	EventRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgraph_event_rejections_total",
		Help: "Total inbound events rejected, by reason",
	}, []string{"reason"})

	// EventsApplied counts events committed to the graph.
	EventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgraph_events_applied_total",
		Help: "Total events applied to the graph",
	})

	// GraphVersion tracks the latest published graph version.
	GraphVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capgraph_graph_version",
		Help: "Latest committed graph version",
	})

	// CacheLookups counts result-cache lookups by outcome (hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgraph_cache_lookups_total",
		Help: "Analytics result cache lookups, by outcome",
	}, []string{"outcome"})

	// ComputeDuration measures metric computation latency per metric set.
	ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capgraph_compute_duration_seconds",
		Help:    "Duration of analytics computations in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"metric"})

	// SnapshotsWritten counts persisted snapshots.
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgraph_snapshots_written_total",
		Help: "Total snapshots persisted to the durable store",
	})

	// HTTPRequests counts query-boundary requests by method, path and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgraph_http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"method", "path", "status"})

	// HTTPDuration measures query-boundary response time.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capgraph_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})
)
