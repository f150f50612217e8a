// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"strings"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/logx"
)

// maxEmptyAttempts is the original request plus one retry with guidance.
const maxEmptyAttempts = 2

// GuidanceMessage is appended as a user message after an empty response.
const GuidanceMessage = "Your last response was empty. Continue the task: call a tool, " +
	"or reply with your <task_summary> if the work is complete."

// EmptyResponseMiddleware retries once with guidance when the model returns neither
// text nor tool calls, then fails with ErrorTypeEmptyResponse.
func EmptyResponseMiddleware() llm.Middleware {
	logger := logx.NewLogger("empty-response-validator")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
					}
					if err == nil && !IsEmpty(resp) {
						return resp, nil
					}

					logger.Warn("⚠️  Empty response from %s (attempt %d/%d, stop_reason=%q)",
						next.GetModelName(), attempt, maxEmptyAttempts, resp.StopReason)

					guided := req
					guided.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...), llm.NewUserMessage(GuidanceMessage))
					req = guided
				}

				logger.Error("❌ Model kept returning empty responses")
				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"received empty response after guidance: no content or tool usage",
				)
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

// IsEmpty reports whether resp carries neither text nor tool calls.
func IsEmpty(resp llm.CompletionResponse) bool {
	return len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Content) == ""
}
