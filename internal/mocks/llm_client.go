package mocks

import (
	"context"
	"strings"
	"sync"

	"sagarmatha/pkg/agent/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
// It provides configurable behavior for Complete and Stream operations.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// StreamFunc is called when Stream is invoked. Override to customize behavior.
	StreamFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	// StreamCalls tracks all calls to Stream for verification.
	StreamCalls []llm.CompletionRequest

	modelName string

	// mu protects call tracking slices and the configured funcs
	mu sync.Mutex
}

// NewMockLLMClient creates a new mock LLM client with default behavior.
// Default behavior: Complete returns a plain text response, Stream returns one chunk.
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{
		modelName: "mock-model",
	}

	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    "Mock response",
			StopReason: "end_turn",
		}, nil
	}

	m.StreamFunc = func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Content: "Mock streamed response", Done: true}
		close(ch)
		return ch, nil
	}

	return m
}

// Complete implements llm.LLMClient. The request is recorded with a copy of its messages,
// since callers keep appending to the same history.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	recorded := req
	recorded.Messages = append([]llm.CompletionMessage(nil), req.Messages...)
	m.CompleteCalls = append(m.CompleteCalls, recorded)
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// Stream implements llm.LLMClient.
func (m *MockLLMClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	fn := m.StreamFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// --- Error simulation helpers ---

// FailCompleteWith configures Complete to return the specified error.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}

// --- Response helpers ---

// RespondWith configures Complete to return the specified content.
func (m *MockLLMClient) RespondWith(content string) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    content,
			StopReason: "end_turn",
		}, nil
	})
}

// RespondWithSequence configures Complete to return different responses for each call.
// The last response is repeated for any additional calls.
func (m *MockLLMClient) RespondWithSequence(responses []llm.CompletionResponse) {
	var (
		mu        sync.Mutex
		callIndex int
	)
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if callIndex < len(responses) {
			resp := responses[callIndex]
			callIndex++
			return resp, nil
		}
		return responses[len(responses)-1], nil
	})
}

// ToolCallResponse builds a response carrying one tool call.
func ToolCallResponse(id, toolName string, params map[string]any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls:  []llm.ToolCall{{ID: id, Name: toolName, Parameters: params}},
		StopReason: "tool_use",
	}
}

// TextResponse builds a plain assistant response.
func TextResponse(content string) llm.CompletionResponse {
	return llm.CompletionResponse{Content: content, StopReason: "end_turn"}
}

// --- Verification helpers ---

// Reset clears all recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = nil
	m.StreamCalls = nil
}

// GetCompleteCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastCompleteCallMessages returns the messages from the most recent Complete call.
func (m *MockLLMClient) LastCompleteCallMessages() []llm.CompletionMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return nil
	}
	return m.CompleteCalls[len(m.CompleteCalls)-1].Messages
}

// AssertCompleteCalledWith reports whether any Complete call carried a message containing substr.
func (m *MockLLMClient) AssertCompleteCalledWith(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.CompleteCalls {
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, substr) {
				return true
			}
		}
	}
	return false
}
