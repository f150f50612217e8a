package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor trusts provider-reported usage and estimates with tiktoken otherwise.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}

	var prompt strings.Builder
	for i := range req.Messages {
		prompt.WriteString(req.Messages[i].Content)
		prompt.WriteString("\n")
		for _, result := range req.Messages[i].ToolResults {
			prompt.WriteString(result.Content)
			prompt.WriteString("\n")
		}
	}
	promptTokens = utils.CountTokensSimple(prompt.String())

	completion := resp.Content
	for i := range resp.ToolCalls {
		completion += resp.ToolCalls[i].Name
	}
	completionTokens = utils.CountTokensSimple(completion)

	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM operations.
// The run id is taken from the request context.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, agent string, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				var cost float64
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					cost, _ = config.CalculateCost(model, promptTokens, completionTokens)
				}

				runID := logx.RunIDFromContext(ctx)
				recorder.ObserveRequest(model, runID, agent, promptTokens, completionTokens, cost, err == nil, getErrorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("🎯 LLM Request: model=%s run=%s agent=%s tokens=%d+%d=%d status=%s duration=%dms",
						model, runID, agent, promptTokens, completionTokens, promptTokens+completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()

				ch, err := next.Stream(ctx, req)

				// Streams record setup only; counting tokens would mean consuming the stream.
				recorder.ObserveRequest(model, logx.RunIDFromContext(ctx), agent, 0, 0, 0, err == nil, getErrorType(err), time.Since(start))
				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
