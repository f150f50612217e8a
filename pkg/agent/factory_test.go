package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/internal/mocks"
	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/agent/middleware/metrics"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
)

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Name:           "code-agent",
		Model:          config.DefaultModel,
		RequestTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
}

func TestCreateClientResolvesProvider(t *testing.T) {
	t.Setenv(config.EnvGoogleAPIKey, "test-key")

	factory := NewLLMClientFactory(testAgentConfig(), nil)
	client, err := factory.CreateClient("code-agent", logx.NewLogger("test"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultModel, client.GetModelName())
	assert.Equal(t, config.DefaultModel, factory.Model())
}

func TestCreateClientWithoutKey(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")

	cfg := testAgentConfig()
	cfg.Model = "claude-sonnet-4-5"
	_, err := NewLLMClientFactory(cfg, nil).CreateClient("code-agent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestCreateClientOllamaNeedsNoKey(t *testing.T) {
	t.Setenv(config.EnvOllamaHost, "http://127.0.0.1:11434")

	cfg := testAgentConfig()
	cfg.Model = "ollama:qwen2.5-coder:7b"
	client, err := NewLLMClientFactory(cfg, nil).CreateClient("code-agent", logx.NewLogger("test"))
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:7b", client.GetModelName())
}

func TestCreateClientRejectsBadSettings(t *testing.T) {
	t.Setenv(config.EnvGoogleAPIKey, "test-key")

	cfg := testAgentConfig()
	cfg.Temperature = 2.5
	_, err := NewLLMClientFactory(cfg, nil).CreateClient("code-agent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")

	cfg = testAgentConfig()
	cfg.MaxTokens = 0
	_, err = NewLLMClientFactory(cfg, nil).CreateClient("code-agent", logx.NewLogger("test"))
	require.NoError(t, err, "zero max tokens falls back to the default")
}

func TestCreateClientUnknownModel(t *testing.T) {
	cfg := testAgentConfig()
	cfg.Model = "mystery-9000"
	_, err := NewLLMClientFactory(cfg, nil).CreateClient("code-agent", nil)
	require.Error(t, err)
}

func TestMiddlewareRetriesTransientErrors(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	calls := 0
	mock.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset")
		}
		return llm.CompletionResponse{Content: "ok"}, nil
	})

	recorder := metrics.NewInternalRecorder()
	client := NewLLMClientFactory(testAgentConfig(), recorder).WrapWithMiddleware(mock, "code-agent", nil)

	ctx := logx.WithRunID(context.Background(), "run-1")
	resp, err := client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)

	runMetrics := recorder.GetRunMetrics("run-1")
	require.NotNil(t, runMetrics)
	assert.Equal(t, int64(1), runMetrics.RequestCount)
}

func TestMiddlewareDoesNotRetryAuthErrors(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"))

	client := NewLLMClientFactory(testAgentConfig(), nil).WrapWithMiddleware(mock, "code-agent", nil)
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.IsPermanent(err))
	assert.Equal(t, 1, mock.GetCompleteCallCount())
}

func TestMiddlewareRejectsEmptyResponses(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith("")

	client := NewLLMClientFactory(testAgentConfig(), nil).WrapWithMiddleware(mock, "code-agent", nil)
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)

	var llmErr *llmerrors.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llmerrors.ErrorTypeEmptyResponse, llmErr.Type)
}
