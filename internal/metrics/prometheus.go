package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync metrics
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagecache_sync_runs_total",
			Help: "Total number of reconcile runs",
		},
		[]string{"status"}, // status: success|error
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usagecache_sync_duration_seconds",
			Help:    "Reconcile duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	PagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usagecache_pages_fetched_total",
			Help: "Total number of remote pages fetched",
		},
	)

	EventsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usagecache_events_saved_total",
			Help: "Total number of events upserted into the store",
		},
	)

	EventsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usagecache_events_deleted_total",
			Help: "Total number of events removed from the store",
		},
	)

	CacheStart = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usagecache_cache_start_timestamp_ms",
			Help: "Lower coverage boundary of the cache in epoch milliseconds",
		},
	)

	CacheEnd = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usagecache_cache_end_timestamp_ms",
			Help: "Upper coverage boundary of the cache in epoch milliseconds",
		},
	)

	// Remote API metrics
	CursorAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagecache_cursor_api_calls_total",
			Help: "Total number of dashboard API calls",
		},
		[]string{"endpoint", "status"}, // status: success|error
	)

	CursorAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usagecache_cursor_api_latency_seconds",
			Help:    "Dashboard API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagecache_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usagecache_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usagecache_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)
)

// Init registers all metrics with the default registry
func Init() {
	prometheus.MustRegister(SyncRuns)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(PagesFetched)
	prometheus.MustRegister(EventsSaved)
	prometheus.MustRegister(EventsDeleted)
	prometheus.MustRegister(CacheStart)
	prometheus.MustRegister(CacheEnd)

	prometheus.MustRegister(CursorAPICalls)
	prometheus.MustRegister(CursorAPILatency)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSync records one reconcile run
func RecordSync(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	SyncRuns.WithLabelValues(status).Inc()
	SyncDuration.Observe(duration.Seconds())
}

// RecordCursorAPICall records one dashboard API call
func RecordCursorAPICall(endpoint string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	CursorAPICalls.WithLabelValues(endpoint, status).Inc()
	CursorAPILatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// SetCacheBounds updates the coverage boundary gauges
func SetCacheBounds(start, end int64) {
	if start > 0 {
		CacheStart.Set(float64(start))
	}
	if end > 0 {
		CacheEnd.Set(float64(end))
	}
}
