package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline reports into. Pass
// NoopRegisterer to construct a set that records nothing, callers never need
// to nil-check.
type Metrics struct {
	JobsRunning   *prometheus.GaugeVec
	JobsCompleted *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobRetries    *prometheus.CounterVec

	JournalReplays prometheus.Counter

	StoreBytesRead    *prometheus.CounterVec
	StoreBytesWritten *prometheus.CounterVec
	StoreOperations   *prometheus.CounterVec

	ScratchDirsSwept prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		JobsRunning: promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "jobs_running",
			Help:      "Number of job bodies currently executing.",
		}, []string{"task"}),
		JobsCompleted: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "jobs_completed_total",
			Help:      "Job bodies finished, by final status.",
		}, []string{"task", "status"}),
		JobDuration: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a single job body attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
		JobRetries: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "job_retries_total",
			Help:      "Job body attempts that failed transiently and were retried.",
		}, []string{"task"}),
		JournalReplays: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "journal_replays_total",
			Help:      "Job bodies skipped because the journal already held their result.",
		}),
		StoreBytesRead: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "store",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the blob store.",
		}, []string{"backend"}),
		StoreBytesWritten: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "store",
			Name:      "bytes_written_total",
			Help:      "Bytes written to the blob store.",
		}, []string{"backend"}),
		StoreOperations: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Blob store calls, by operation.",
		}, []string{"backend", "operation"}),
		ScratchDirsSwept: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "lexsort",
			Subsystem: "scheduler",
			Name:      "scratch_dirs_swept_total",
			Help:      "Abandoned scratch directories removed by the janitor.",
		}),
	}
}

// NoopMetrics returns a Metrics set whose collectors are never registered
// anywhere.
func NoopMetrics() *Metrics {
	return NewMetrics(NoopRegisterer)
}
