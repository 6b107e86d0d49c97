package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage shape
	UserCollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncstorage_user_collections_total",
			Help: "Total number of user-collection rows across all backends",
		},
	)

	BSOsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncstorage_bsos_total",
			Help: "Non-expired BSO count by well-known collection name",
		},
		[]string{"collection"},
	)

	BatchesOpenTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncstorage_batches_open_total",
			Help: "Number of batches currently in the OPEN state",
		},
	)

	// Operation outcomes
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstorage_operations_total",
			Help: "Total engine operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncstorage_operation_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstorage_quota_exceeded_total",
			Help: "Total writes rejected for exceeding the per-user quota",
		},
		[]string{"collection"},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstorage_conflicts_total",
			Help: "Total writes rejected by X-If-Unmodified-Since conflict detection",
		},
		[]string{"collection"},
	)

	// Batch protocol
	BatchCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstorage_batch_commit_duration_seconds",
			Help:    "Time taken to commit a batch, including staged-row merge",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchItemsCommitted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstorage_batch_items_committed",
			Help:    "Number of BSOs merged by a single batch commit",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Resource pressure
	PoolTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_pool_timeouts_total",
			Help: "Total times a database connection could not be acquired within the configured timeout",
		},
	)

	ClockBumpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_clock_bumps_total",
			Help: "Total times the clock had to be bumped forward by 10ms to preserve monotonic per-collection timestamps",
		},
	)
)

func init() {
	prometheus.MustRegister(
		UserCollectionsTotal,
		BSOsTotal,
		BatchesOpenTotal,
		OperationsTotal,
		OperationDuration,
		QuotaExceededTotal,
		ConflictsTotal,
		BatchCommitDuration,
		BatchItemsCommitted,
		PoolTimeoutsTotal,
		ClockBumpsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
