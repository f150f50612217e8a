package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClient struct {
	content string
}

func (c staticClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: c.content}, nil
}

func (c staticClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return StreamFromComplete(ctx, c, in)
}

func (c staticClient) GetModelName() string { return "static" }

func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, tag)
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	client := Chain(staticClient{content: "ok"}, tagging("outer", &order), tagging("inner", &order))

	resp, err := client.Complete(context.Background(), NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "static", client.GetModelName())
}

func TestChainWithoutMiddleware(t *testing.T) {
	base := staticClient{content: "x"}
	assert.Equal(t, base, Chain(base))
}

func TestStreamFromComplete(t *testing.T) {
	stream, err := StreamFromComplete(context.Background(), staticClient{content: "streamed"}, CompletionRequest{})
	require.NoError(t, err)
	var chunks []StreamChunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, "streamed", chunks[0].Content)
	assert.True(t, chunks[0].Done)
}

func TestMessageConstructors(t *testing.T) {
	resp := CompletionResponse{
		Content:   "working",
		ToolCalls: []ToolCall{{ID: "c1", Name: "read-files"}},
	}
	msg := NewAssistantMessage(resp)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Len(t, msg.ToolCalls, 1)

	tool := NewToolMessage([]ToolResult{{ToolCallID: "c1", Content: "[]"}})
	assert.Equal(t, RoleTool, tool.Role)
	assert.Equal(t, "c1", tool.ToolResults[0].ToolCallID)

	req := NewCompletionRequest([]CompletionMessage{NewSystemMessage("s"), NewUserMessage("u")})
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestLLMConfigValidate(t *testing.T) {
	cfg := LLMConfig{APIKey: "k", ModelName: "m", MaxTokens: 10, Temperature: 0.5}
	require.NoError(t, cfg.Validate())

	cfg.Temperature = 3
	assert.Error(t, cfg.Validate())

	cfg = LLMConfig{ModelName: "m", MaxTokens: 10}
	assert.Error(t, cfg.Validate())
}
