package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/config"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("op: %w", context.Canceled), false},
		{"deadline", fmt.Errorf("http: %w", context.DeadlineExceeded), true},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"), false},
		{"bad prompt", llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"), false},
		{"rate limit", llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down"), true},
		{"unclassified", errors.New("EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Equal(t, time.Duration(0), p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4), "capped at MaxDelay")
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: true}, nil)
	for i := 0; i < 50; i++ {
		d := p.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 3, Jitter: true})
	assert.Equal(t, Config{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 3, Jitter: true}, cfg)
}

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.calls++
	if c.calls <= c.failures {
		return llm.CompletionResponse{}, c.err
	}
	return llm.CompletionResponse{Content: "done"}, nil
}

func (c *flakyClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, c, req)
}

func (c *flakyClient) GetModelName() string { return "flaky" }

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRecovers(t *testing.T) {
	base := &flakyClient{failures: 2, err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")}
	client := llm.Chain(base, Middleware(fastPolicy(3)))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 3, base.calls)
}

func TestMiddlewareExhausted(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")}
	client := llm.Chain(base, Middleware(fastPolicy(2)))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 2, base.calls)
}

func TestMiddlewareStopsOnPermanentError(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.NewError(llmerrors.ErrorTypeAuth, "401")}
	client := llm.Chain(base, Middleware(fastPolicy(5)))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, 1, base.calls)
}

func TestMiddlewareHonoursCancellation(t *testing.T) {
	base := &flakyClient{failures: 10, err: errors.New("EOF")}
	policy := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)
	client := llm.Chain(base, Middleware(policy))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.calls)
}
