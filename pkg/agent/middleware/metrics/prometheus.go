package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM metrics with reg under namespace.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests by model, agent, and status",
			},
			[]string{"model", "agent", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total number of tokens used in LLM requests",
			},
			[]string{"model", "run_id", "agent", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_costs_total",
				Help:      "Total cost in USD for LLM requests",
			},
			[]string{"model", "run_id", "agent"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of LLM requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "agent"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, runID, agent string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(model, agent, status, errorType).Inc()

	// Tokens and costs only on success
	if success {
		p.tokensTotal.WithLabelValues(model, runID, agent, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, runID, agent, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, runID, agent).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, agent).Observe(duration.Seconds())
}
