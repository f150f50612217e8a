package retry

import (
	"context"
	"fmt"
	"time"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/logx"
)

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Exhausting the attempts on a retryable error yields a ServiceUnavailable error.
func Middleware(policy *Policy) llm.Middleware {
	logger := logx.NewLogger("retry")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var resp llm.CompletionResponse
				err := do(ctx, policy, logger, next.GetModelName(), func() error {
					var callErr error
					resp, callErr = next.Complete(ctx, req)
					return callErr
				})
				return resp, err
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				var ch <-chan llm.StreamChunk
				err := do(ctx, policy, logger, next.GetModelName(), func() error {
					var callErr error
					ch, callErr = next.Stream(ctx, req)
					return callErr
				})
				return ch, err
			},
			next.GetModelName,
		)
	}
}

func do(ctx context.Context, policy *Policy, logger *logx.Logger, model string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			logger.Warn("🔁 Retrying %s (attempt %d/%d) in %v: %v", model, attempt, policy.Config.MaxAttempts, delay, lastErr)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		if !policy.ShouldRetry(err) {
			return err
		}
	}

	if policy.Config.MaxAttempts > 1 {
		return llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
	}
	return lastErr
}
