// Package metrics provides prometheus instrumentation for the pipeline:
// throughput counters, the governor's current concurrency shape, and the
// memory signal it acts on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PapersProcessed counts documents by partition and outcome.
	PapersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholarpipe_papers_processed_total",
			Help: "Total number of papers processed",
		},
		[]string{"partition", "status"},
	)

	// BatchesDispatched counts batches drawn from the source.
	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholarpipe_batches_dispatched_total",
			Help: "Total number of batches dispatched to the worker pool",
		},
		[]string{"partition"},
	)

	// WorkerCount reports the pool size the next batch will use.
	WorkerCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scholarpipe_worker_count",
			Help: "Current worker count after governor adjustments",
		},
		[]string{"partition"},
	)

	// BatchSizeGauge reports the batch size the next batch will use.
	BatchSizeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scholarpipe_batch_size",
			Help: "Current batch size after governor adjustments",
		},
		[]string{"partition"},
	)

	// MemoryUtilization is the last system memory sample the governor saw.
	MemoryUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scholarpipe_memory_utilization_percent",
			Help: "Last observed system memory utilization",
		},
	)

	// CleanLatency observes per-document transformation latency.
	CleanLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scholarpipe_clean_latency_seconds",
			Help:    "Per-document cleaning latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"partition"},
	)
)

// Timer measures one operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
