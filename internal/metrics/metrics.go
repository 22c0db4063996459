package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the orchestration engine.
type Metrics struct {
	// Scan task metrics
	ScanTasksTotal   *prometheus.CounterVec
	ScanTaskDuration *prometheus.HistogramVec

	// Queue metrics
	TasksDispatched *prometheus.CounterVec
	TasksPulled     *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejections *prometheus.CounterVec

	// DAG metrics
	DAGExecutionsTotal *prometheus.CounterVec
	DAGNodesTotal      *prometheus.CounterVec

	// Alerting metrics
	AlertsCreated     *prometheus.CounterVec
	AlertsAggregated  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on a caller-owned registry, used by tests
// to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScanTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_scan_tasks_total",
				Help: "Scan tasks by type and terminal status",
			},
			[]string{"task_type", "status"},
		),

		ScanTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surface_scan_task_duration_seconds",
				Help:    "Wall-clock duration of scan task handlers",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"task_type"},
		),

		TasksDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_queue_tasks_dispatched_total",
				Help: "Tasks pushed into the broker by queue class",
			},
			[]string{"queue"},
		),

		TasksPulled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_queue_tasks_pulled_total",
				Help: "Tasks pulled by workers by queue class",
			},
			[]string{"queue"},
		),

		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_ratelimit_rejections_total",
				Help: "Requests rejected by the sliding window limiter",
			},
			[]string{"prefix"},
		),

		DAGExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_dag_executions_total",
				Help: "DAG executions by terminal status",
			},
			[]string{"status"},
		),

		DAGNodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_dag_nodes_total",
				Help: "DAG node transitions into terminal states",
			},
			[]string{"state"},
		),

		AlertsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_alerts_created_total",
				Help: "New alert records by severity",
			},
			[]string{"severity"},
		),

		AlertsAggregated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_alerts_aggregated_total",
				Help: "Alerts folded into an existing record by severity",
			},
			[]string{"severity"},
		),

		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surface_notifications_sent_total",
				Help: "Notification deliveries by channel type and outcome",
			},
			[]string{"channel_type", "result"},
		),
	}
}
