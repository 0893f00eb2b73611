package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain metrics. Label values are drawn from small fixed sets (intake
// outcomes, queue statuses, table names) to keep cardinality bounded.
var (
	// intakeRecords counts inbound records by outcome (accepted, rejected).
	intakeRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_records_total",
			Help: "Inbound records by enqueue outcome.",
		},
		[]string{"outcome"},
	)

	// queueProcessed counts drained queue records by terminal status.
	queueProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Queue records processed, by resulting status.",
		},
		[]string{"status"},
	)

	// archiveRows counts rows moved into or out of the archive ledger.
	archiveRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_rows_total",
			Help: "Rows archived or restored, by source table and operation.",
		},
		[]string{"table", "op"},
	)

	// drainDuration observes the wall time of one drain pass.
	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drain_duration_seconds",
			Help:    "Duration of queue drain passes in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(intakeRecords, queueProcessed, archiveRows, drainDuration)
}

// RecordIntake adds n records with the given outcome.
func RecordIntake(outcome string, n int) {
	if n > 0 {
		intakeRecords.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordProcessed counts one drained record with its terminal status.
func RecordProcessed(status string) {
	queueProcessed.WithLabelValues(status).Inc()
}

// RecordArchiveRows adds n rows for table under op ("archive" or "restore").
func RecordArchiveRows(table, op string, n int) {
	if n > 0 {
		archiveRows.WithLabelValues(table, op).Add(float64(n))
	}
}

// ObserveDrain records the duration of a drain pass that started at start.
func ObserveDrain(start time.Time) {
	drainDuration.Observe(time.Since(start).Seconds())
}
