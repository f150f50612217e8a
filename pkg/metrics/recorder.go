package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sagarmatha/pkg/workflow"
)

// RunRecorder exports workflow run, agent turn and tool metrics.
// It implements workflow.RunObserver and network.Observer.
type RunRecorder struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runAttempts   *prometheus.HistogramVec
	turnsTotal    *prometheus.CounterVec
	turnToolCalls *prometheus.HistogramVec
	toolsTotal    *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	resultsTotal  *prometheus.CounterVec
}

// NewRunRecorder registers the run metrics with reg under namespace.
func NewRunRecorder(reg prometheus.Registerer, namespace string) *RunRecorder {
	factory := promauto.With(reg)
	return &RunRecorder{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs that reached a terminal status",
		}, []string{"function", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Wall time from first attempt to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"function"}),
		runAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_attempts",
			Help:      "Attempts used per terminal run",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"function"}),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns completed",
		}, []string{"network"}),
		turnToolCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turn_tool_calls",
			Help:      "Tool calls per agent turn",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"network"}),
		toolsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		resultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Persisted task outcomes by message type",
		}, []string{"type"}),
	}
}

// RunFinished implements workflow.RunObserver.
func (r *RunRecorder) RunFinished(functionID string, status workflow.RunStatus, attempts int, duration time.Duration) {
	r.runsTotal.WithLabelValues(functionID, string(status)).Inc()
	r.runDuration.WithLabelValues(functionID).Observe(duration.Seconds())
	r.runAttempts.WithLabelValues(functionID).Observe(float64(attempts))
}

// TurnFinished implements network.Observer.
func (r *RunRecorder) TurnFinished(network string, _, toolCalls int, _ time.Duration) {
	r.turnsTotal.WithLabelValues(network).Inc()
	r.turnToolCalls.WithLabelValues(network).Observe(float64(toolCalls))
}

// ToolExecuted implements network.Observer.
func (r *RunRecorder) ToolExecuted(tool string, isError bool, duration time.Duration) {
	status := "success"
	if isError {
		status = "error"
	}
	r.toolsTotal.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ResultPersisted counts a persisted task outcome.
func (r *RunRecorder) ResultPersisted(messageType string) {
	r.resultsTotal.WithLabelValues(messageType).Inc()
}
