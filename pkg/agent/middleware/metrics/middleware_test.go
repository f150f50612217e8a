package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/logx"
)

type fixedClient struct {
	resp llm.CompletionResponse
	err  error
}

func (c fixedClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return c.resp, c.err
}

func (c fixedClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, c, req)
}

func (fixedClient) GetModelName() string { return "claude-sonnet-4-5" }

func TestMiddlewareRecordsProviderUsage(t *testing.T) {
	internal := NewInternalRecorder()
	reg := prometheus.NewRegistry()
	prom := NewPrometheusRecorder(reg, "test")

	client := llm.Chain(fixedClient{resp: llm.CompletionResponse{
		Content: "ok",
		Usage:   llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
	}}, Middleware(Multi(internal, prom), nil, "code-agent", nil))

	ctx := logx.WithRunID(context.Background(), "run-1")
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	require.NoError(t, err)

	run := internal.GetRunMetrics("run-1")
	require.NotNil(t, run)
	assert.Equal(t, int64(2_000_000), run.TotalTokens)
	assert.InDelta(t, 18.0, run.TotalCost, 1e-9)
	assert.Equal(t, int64(1), run.RequestCount)

	assert.InDelta(t, 1.0, testutil.ToFloat64(prom.requestsTotal.WithLabelValues("claude-sonnet-4-5", "code-agent", "success", "")), 1e-9)
	assert.InDelta(t, 1_000_000, testutil.ToFloat64(prom.tokensTotal.WithLabelValues("claude-sonnet-4-5", "run-1", "code-agent", "prompt")), 1e-9)
}

func TestMiddlewareRecordsFailures(t *testing.T) {
	internal := NewInternalRecorder()
	client := llm.Chain(fixedClient{err: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")},
		Middleware(internal, nil, "code-agent", logx.NewLogger("test")))

	ctx := logx.WithRunID(context.Background(), "run-2")
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	require.Error(t, err)

	run := internal.GetRunMetrics("run-2")
	require.NotNil(t, run)
	assert.Equal(t, int64(1), run.FailedRequests)
	assert.Zero(t, run.TotalTokens)
}

func TestDefaultUsageExtractorEstimates(t *testing.T) {
	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("build a todo app")}}
	prompt, completion := DefaultUsageExtractor(req, llm.CompletionResponse{Content: "<task_summary>done</task_summary>"})
	assert.Positive(t, prompt)
	assert.Positive(t, completion)
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, "", getErrorType(nil))
	assert.Equal(t, "canceled", getErrorType(context.Canceled))
	assert.Equal(t, "timeout", getErrorType(context.DeadlineExceeded))
	assert.Equal(t, "auth", getErrorType(llmerrors.NewError(llmerrors.ErrorTypeAuth, "")))
	assert.Equal(t, "unknown", getErrorType(errors.New("boom")))
}

func TestInternalRecorderIgnoresAnonymousRequests(t *testing.T) {
	r := NewInternalRecorder()
	r.ObserveRequest("m", "", "a", 1, 1, 0, true, "", time.Millisecond)
	assert.Empty(t, r.GetAllRunMetrics())

	r.ObserveRequest("m", "x", "a", 1, 1, 0, true, "", time.Millisecond)
	r.ClearRunMetrics("x")
	assert.Nil(t, r.GetRunMetrics("x"))
}
