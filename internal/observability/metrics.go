package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the scheduler runtime.
//
// Tracked signals:
//   - task throughput by type and outcome
//   - current occupancy of the concurrency semaphore and the queues
//   - model call latency and outcome by model
//   - tool dispatch latency and outcome by tool
type Metrics struct {
	// TasksSubmitted counts task submissions.
	// Labels: task_type (planning|tool_call|final_summary|reasoning)
	TasksSubmitted *prometheus.CounterVec

	// TasksFinished counts terminal transitions.
	// Labels: task_type, outcome (completed|failed)
	TasksFinished *prometheus.CounterVec

	// RunningTasks gauges tasks currently holding a concurrency slot.
	RunningTasks prometheus.Gauge

	// QueueDepth gauges queue occupancy.
	// Labels: queue (ready|resumption)
	QueueDepth *prometheus.GaugeVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: model, status (success|error)
	ModelRequestDuration *prometheus.HistogramVec

	// ToolDispatchCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolDispatchCounter *prometheus.CounterVec

	// ToolDispatchDuration measures tool invocation latency in seconds.
	// Labels: tool_name
	ToolDispatchDuration *prometheus.HistogramVec

	// PlansProduced counts decomposition outcomes.
	// Labels: status (success|error)
	PlansProduced *prometheus.CounterVec
}

// NewMetrics creates metrics registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry creates metrics on the given registry. A nil
// registry uses the Prometheus default; tests pass their own registry so
// repeated construction does not panic on duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		TasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_tasks_submitted_total",
			Help: "Tasks submitted to the scheduler.",
		}, []string{"task_type"}),

		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_tasks_finished_total",
			Help: "Tasks that reached a terminal status.",
		}, []string{"task_type", "outcome"}),

		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentsched_running_tasks",
			Help: "Tasks currently holding a concurrency slot.",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentsched_queue_depth",
			Help: "Occupancy of the ready and resumption queues.",
		}, []string{"queue"}),

		ModelRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsched_model_request_duration_seconds",
			Help:    "Latency of chat-completion calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model", "status"}),

		ToolDispatchCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_tool_dispatch_total",
			Help: "Tool invocations by outcome.",
		}, []string{"tool_name", "status"}),

		ToolDispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsched_tool_dispatch_duration_seconds",
			Help:    "Latency of tool invocations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		PlansProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_plans_produced_total",
			Help: "Decomposition attempts by outcome.",
		}, []string{"status"}),
	}
}
