// Package metrics exports run, turn and tool metrics to Prometheus and queries the
// per-run LLM usage back out of a Prometheus server.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunMetrics represents aggregated LLM usage for one workflow run.
type RunMetrics struct {
	RunID            string  `json:"run_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI  v1.API
	namespace string
}

// NewQueryService creates a new metrics query service. namespace must match the one
// the LLM metrics were registered under.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI:  v1.NewAPI(client),
		namespace: namespace,
	}, nil
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// scalar runs query and returns the first sample of the resulting vector, or 0.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err //nolint:wrapcheck // callers add context
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetRunMetrics retrieves aggregated token and cost metrics for a run.
func (q *QueryService) GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error) {
	return q.runMetrics(ctx, runID, fmt.Sprintf(`run_id=%q`, runID))
}

func (q *QueryService) runMetrics(ctx context.Context, runID, selector string) (*RunMetrics, error) {
	metrics := &RunMetrics{RunID: runID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{%s, type="prompt"})`, q.metric("llm_tokens_total"), selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	metrics.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{%s, type="completion"})`, q.metric("llm_tokens_total"), selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	metrics.CompletionTokens = int64(completion)

	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	metrics.TotalCost, err = q.scalar(ctx, fmt.Sprintf(`sum(%s{%s})`, q.metric("llm_costs_total"), selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}

	return metrics, nil
}

// GetRunMetricsByModel retrieves metrics broken down by model for a run.
func (q *QueryService) GetRunMetricsByModel(ctx context.Context, runID string) (map[string]*RunMetrics, error) {
	modelsQuery := fmt.Sprintf(`group by (model) (%s{run_id=%q})`, q.metric("llm_tokens_total"), runID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	result := make(map[string]*RunMetrics, len(models))
	for _, modelName := range models {
		metrics, err := q.runMetrics(ctx, runID, fmt.Sprintf(`run_id=%q, model=%q`, runID, modelName))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", modelName, err)
		}
		result[modelName] = metrics
	}
	return result, nil
}
