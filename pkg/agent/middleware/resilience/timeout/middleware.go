// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"time"

	"sagarmatha/pkg/agent/llm"
)

// Middleware bounds every request to duration. Streams keep their deadline until
// the stream is drained.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				upstream, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}
				out := make(chan llm.StreamChunk)
				go func() {
					defer cancel()
					defer close(out)
					for chunk := range upstream {
						select {
						case out <- chunk:
						case <-timeoutCtx.Done():
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
