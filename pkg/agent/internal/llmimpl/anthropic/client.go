// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/tools"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client; middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string) llm.LLMClient {
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation extracts system messages and merges runs of user and tool
// messages so the sequence strictly alternates, starting and ending with user.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, turns []anthropic.MessageParam, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var pending []anthropic.ContentBlockParamUnion

	flushUser := func() {
		if len(pending) > 0 {
			turns = append(turns, anthropic.MessageParam{Role: anthropic.MessageParamRoleUser, Content: pending})
			pending = nil
		}
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleUser:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}
		case llm.RoleTool:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				pending = append(pending, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
		case llm.RoleAssistant:
			flushUser()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			if n := len(turns); n > 0 && turns[n-1].Role == anthropic.MessageParamRoleAssistant {
				turns[n-1].Content = append(turns[n-1].Content, blocks...)
				continue
			}
			turns = append(turns, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
		default:
			return "", nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	flushUser()

	if len(turns) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if turns[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", turns[0].Role)
	}
	if last := turns[len(turns)-1]; last.Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}

	return strings.Join(systemParts, "\n\n"), turns, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := def.InputSchema.ToMap()
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   def.InputSchema.Required,
				},
			},
		})
	}
	return out
}

func toolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "any":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = toolChoice(in.ToolChoice)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			var params map[string]any
			if err := json.Unmarshal(toolUse.Input, &params); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Parameters: params})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream delivers the completed response as one chunk.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, c, in)
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.StatusCode, "anthropic")
	}
	return llmerrors.Classify(err, 0, "anthropic")
}
