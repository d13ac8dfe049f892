package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts per-task outcomes: success, retry, failed.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finesync_tasks_processed_total",
		Help: "Sync task outcomes per batch cycle",
	}, []string{"status"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finesync_batch_duration_seconds",
		Help:    "Wall-clock duration of one polling cycle",
		Buckets: prometheus.DefBuckets,
	})

	FinesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finesync_fine_records_created_total",
		Help: "Downstream fine records created from API responses",
	})

	FinesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finesync_fine_records_resolved_total",
		Help: "Open fine records marked paid after an empty report",
	})

	StuckReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finesync_stuck_tasks_reset_total",
		Help: "Leases reclaimed by the stuck-task reaper",
	})
)
