package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by queue",
		},
		[]string{"queue"},
	)
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_running",
			Help: "Number of jobs currently running by queue",
		},
		[]string{"queue"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_completed_total",
			Help: "Total number of jobs completed by queue",
		},
		[]string{"queue"},
	)
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_retried_total",
			Help: "Total number of job retries scheduled by queue",
		},
		[]string{"queue"},
	)
	JobsDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_dead_lettered_total",
			Help: "Total number of jobs parked in the DLQ by queue",
		},
		[]string{"queue"},
	)
	JobsReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_reaped_total",
			Help: "Total number of expired job locks reclaimed by queue",
		},
		[]string{"queue"},
	)
	JobsDelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_delayed_total",
			Help: "Total number of jobs rescheduled for a provider rate limit by queue",
		},
		[]string{"queue"},
	)

	StageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Pipeline stage results by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	SelectorDecisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "selector_decisions_total",
			Help: "Total number of vendor selection decisions",
		},
	)
	SelectorCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "selector_candidates",
			Help:    "Distribution of eligible candidate counts per selection",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	OutboxDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dispatched_total",
			Help: "Total number of outbox rows dispatched and acknowledged",
		},
	)
	OutboxDispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_failures_total",
			Help: "Total number of transient outbox dispatch failures",
		},
	)

	VendorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_events_total",
			Help: "Vendor lifecycle events applied to the performance store",
		},
		[]string{"type"},
	)
	ReliabilityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vendor_reliability_score",
			Help:    "Distribution of recomputed vendor reliability scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry.
// Safe to call from both server and worker mains.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			JobsEnqueuedTotal,
			JobsRunning,
			JobsCompletedTotal,
			JobsRetriedTotal,
			JobsDeadLetteredTotal,
			JobsReapedTotal,
			JobsDelayedTotal,
			StageOutcomesTotal,
			StageDuration,
			SelectorDecisionsTotal,
			SelectorCandidates,
			OutboxDispatchedTotal,
			OutboxDispatchFailures,
			VendorEventsTotal,
			ReliabilityScore,
		)
	})
}
