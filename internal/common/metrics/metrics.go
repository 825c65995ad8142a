// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	// Transitions counts committed state changes, e.g. observation
	// SENT_TO_AGENCY -> AGENCY_ACCEPTED.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_transitions_total",
			Help: "Committed entity state transitions",
		},
		[]string{"entity", "from", "to"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_operation_errors_total",
			Help: "Failed service operations by error kind",
		},
		[]string{"operation", "kind"},
	)

	SweepRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_sweep_rows_total",
			Help: "Overdue observations handled by the deadline sweep",
		},
		[]string{"result"},
	)

	NotificationsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_notifications_enqueued_total",
			Help: "Notifications written to the inbox",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_notification_failures_total",
			Help: "Swallowed notification enqueue or delivery failures",
		},
		[]string{"stage"},
	)

	StatsCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_approval_stats_cache_total",
			Help: "Approval stats cache lookups",
		},
		[]string{"result"},
	)
)
