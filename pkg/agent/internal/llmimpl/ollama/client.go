// Package ollama provides an llm.LLMClient backed by a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/tools"
)

// DefaultHost is used when no host is configured or the configured one does not parse.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a raw client for hostURL; middleware is applied by the factory.
// Model names may carry an explicit "ollama:" prefix.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}
}

// Complete implements llm.LLMClient with a non-streaming chat call.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 && in.ToolChoice != "none" {
		toolDefs, err := convertTools(in.Tools)
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("tool conversion error: %v", err))
		}
		req.Tools = toolDefs
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	toolCalls, err := convertToolCalls(response.Message.ToolCalls)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "malformed tool arguments")
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			InputTokens:  response.PromptEvalCount,
			OutputTokens: response.EvalCount,
		},
	}
	if len(toolCalls) > 0 {
		result.StopReason = "tool_use"
	}
	return result, nil
}

// Stream delivers the completed response as one chunk.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, o, in)
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertMessages maps our conversation onto Ollama chat messages. Tool results become
// one "tool" message per call.
func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		if len(msg.ToolResults) > 0 {
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				out = append(out, api.Message{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			if msg.Content != "" {
				out = append(out, api.Message{Role: string(llm.RoleUser), Content: msg.Content})
			}
			continue
		}

		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			args := api.NewToolCallFunctionArguments()
			for k, v := range tc.Parameters {
				args.Set(k, v)
			}
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, m)
	}
	return out, nil
}

// convertTools goes through the wire format so nested schemas survive intact.
func convertTools(defs []tools.ToolDefinition) (api.Tools, error) {
	out := make(api.Tools, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.InputSchema.ToMap(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool %s: %w", def.Name, err)
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", def.Name, err)
		}
		out = append(out, tool)
	}
	return out, nil
}

// convertToolCalls extracts tool calls, generating ids the server left out.
func convertToolCalls(calls []api.ToolCall) ([]llm.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for i := range calls {
		call := &calls[i]
		raw, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments of %s: %w", call.Function.Name, err)
		}
		params := map[string]any{}
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("failed to decode arguments of %s: %w", call.Function.Name, err)
			}
		}

		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out = append(out, llm.ToolCall{ID: id, Name: call.Function.Name, Parameters: params})
	}
	return out, nil
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError maps Ollama failures onto llmerrors types.
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
		}
		return llmerrors.Classify(err, statusErr.StatusCode, "ollama")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	case strings.Contains(msg, "timeout"), errors.Is(err, context.DeadlineExceeded):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	default:
		return llmerrors.Classify(err, 0, "ollama")
	}
}
