// Package metrics exposes the ingestion pipeline's Prometheus metrics.
//
// Grounded on the teacher's internal/interfaces/http/metrics.go
// MetricsRegistry (NewMetricsRegistry's MustRegister-everything-at-
// construction shape, StepTimer pattern), trimmed of the
// backtesting-specific regime/cache gauges and given the fetch/ws/
// bucket/storage label set this domain needs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector for the pipeline.
type Registry struct {
	FetchRequests      *prometheus.CounterVec
	FetchRateLimited    *prometheus.CounterVec
	FetchLatency        *prometheus.HistogramVec
	WSConnections       *prometheus.CounterVec
	WSReconnects        *prometheus.CounterVec
	WSEventsReceived    *prometheus.CounterVec
	BucketFlushes       *prometheus.CounterVec
	StorageUpsertRows   *prometheus.CounterVec
	StorageUpsertErrors *prometheus.CounterVec
	MetricsEngineRuns   prometheus.Counter
	MetricsEngineLatency prometheus.Histogram
}

// New constructs and registers every collector against reg.
func New(reg *prometheus.Registry) *Registry {
	r := &Registry{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_fetch_requests_total",
			Help: "Total REST fetch attempts by venue, endpoint, and outcome.",
		}, []string{"venue", "endpoint", "outcome"}),

		FetchRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_fetch_rate_limited_total",
			Help: "Total 429/418/5xx responses observed by venue and endpoint.",
		}, []string{"venue", "endpoint"}),

		FetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpingest_fetch_latency_seconds",
			Help:    "REST fetch round-trip latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"venue", "endpoint"}),

		WSConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_ws_connections_total",
			Help: "Total successful WebSocket connections by venue.",
		}, []string{"venue"}),

		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_ws_reconnects_total",
			Help: "Total WebSocket reconnects by venue.",
		}, []string{"venue"}),

		WSEventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_ws_events_total",
			Help: "Total WebSocket events forwarded by venue and kind.",
		}, []string{"venue", "kind"}),

		BucketFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_bucket_flushes_total",
			Help: "Total minute-bucket flushes by venue.",
		}, []string{"venue"}),

		StorageUpsertRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_storage_upsert_rows_total",
			Help: "Total rows written to perp_data by table.",
		}, []string{"table"}),

		StorageUpsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpingest_storage_upsert_errors_total",
			Help: "Total chunk upsert failures (after retry) by table.",
		}, []string{"table"}),

		MetricsEngineRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpingest_metrics_engine_runs_total",
			Help: "Total derived-metrics engine passes.",
		}),

		MetricsEngineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpingest_metrics_engine_latency_seconds",
			Help:    "Derived-metrics engine pass duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		r.FetchRequests, r.FetchRateLimited, r.FetchLatency,
		r.WSConnections, r.WSReconnects, r.WSEventsReceived,
		r.BucketFlushes, r.StorageUpsertRows, r.StorageUpsertErrors,
		r.MetricsEngineRuns, r.MetricsEngineLatency,
	)
	return r
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
