package metrics

import (
	"sync"
	"time"
)

// InternalRecorder aggregates usage per run in memory, for deployments without Prometheus.
type InternalRecorder struct {
	runs map[string]*RunMetrics
	mu   sync.RWMutex
}

// RunMetrics is the aggregated LLM usage of one run.
//
//nolint:govet
type RunMetrics struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	FailedRequests   int64     `json:"failed_requests"`
	TotalCost        float64   `json:"total_cost_usd"`
	RunID            string    `json:"run_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewInternalRecorder returns an empty recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{runs: make(map[string]*RunMetrics)}
}

// ObserveRequest records metrics for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(
	_, runID, _ string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	if runID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[runID]
	if !exists {
		run = &RunMetrics{RunID: runID}
		r.runs[runID] = run
	}

	run.RequestCount++
	run.LastUpdated = time.Now()
	if !success {
		run.FailedRequests++
		return
	}
	run.PromptTokens += int64(promptTokens)
	run.CompletionTokens += int64(completionTokens)
	run.TotalTokens = run.PromptTokens + run.CompletionTokens
	run.TotalCost += cost
}

// GetRunMetrics returns a copy of the metrics for runID, or nil.
func (r *InternalRecorder) GetRunMetrics(runID string) *RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if run, exists := r.runs[runID]; exists {
		copied := *run
		return &copied
	}
	return nil
}

// GetAllRunMetrics returns copies of all run metrics.
func (r *InternalRecorder) GetAllRunMetrics() map[string]*RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*RunMetrics, len(r.runs))
	for id, run := range r.runs {
		copied := *run
		result[id] = &copied
	}
	return result
}

// ClearRunMetrics forgets runID.
func (r *InternalRecorder) ClearRunMetrics(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}
