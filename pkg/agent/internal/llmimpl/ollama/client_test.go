package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/tools"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name, host, model, want string
	}{
		{"plain model", "http://localhost:11434", "qwen2.5-coder:7b", "qwen2.5-coder:7b"},
		{"explicit prefix", "http://10.0.0.2:11434", "ollama:phi4", "phi4"},
		{"invalid host falls back", "not a url", "llama3.1:8b", "llama3.1:8b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOllamaClientWithModel(tt.host, tt.model)
			require.NotNil(t, client)
			assert.Equal(t, tt.want, client.GetModelName())
		})
	}
}

func TestConvertMessages(t *testing.T) {
	_, err := convertMessages(nil)
	require.Error(t, err)

	msgs, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("You are helpful"),
		llm.NewUserMessage("Build it"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "terminal", Parameters: map[string]any{"command": "ls"}}}},
		llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "call_1", Name: "terminal", Content: "app"}}),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "terminal", msgs[2].ToolCalls[0].Function.Name)
	cmd, ok := msgs[2].ToolCalls[0].Function.Arguments.Get("command")
	require.True(t, ok)
	assert.Equal(t, "ls", cmd)
	assert.Equal(t, "tool", msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
}

func TestConvertTools(t *testing.T) {
	defs := []tools.ToolDefinition{{
		Name:        "createOrUpdateFiles",
		Description: "Create or update files",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"files": {
					Type: "array",
					Items: &tools.Property{
						Type: "object",
						Properties: map[string]*tools.Property{
							"path":    {Type: "string"},
							"content": {Type: "string"},
						},
					},
				},
			},
			Required: []string{"files"},
		},
	}}

	out, err := convertTools(defs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "createOrUpdateFiles", out[0].Function.Name)
	assert.Equal(t, []string{"files"}, out[0].Function.Parameters.Required)
	_, hasFiles := out[0].Function.Parameters.Properties.Get("files")
	assert.True(t, hasFiles)
}

func TestConvertToolCalls(t *testing.T) {
	args := api.NewToolCallFunctionArguments()
	args.Set("files", []any{map[string]any{"path": "a.ts"}})

	calls, err := convertToolCalls([]api.ToolCall{
		{ID: "abc", Function: api.ToolCallFunction{Name: "createOrUpdateFiles", Arguments: args}},
		{Function: api.ToolCallFunction{Name: "terminal", Arguments: api.NewToolCallFunctionArguments()}},
	})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "abc", calls[0].ID)
	assert.Equal(t, []any{map[string]any{"path": "a.ts"}}, calls[0].Parameters["files"])
	assert.Equal(t, "call_1", calls[1].ID)
	assert.Empty(t, calls[1].Parameters)

	none, err := convertToolCalls(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStopReason(t *testing.T) {
	assert.Equal(t, "incomplete", stopReason(&api.ChatResponse{}))
	assert.Equal(t, "end_turn", stopReason(&api.ChatResponse{Done: true, DoneReason: "stop"}))
	assert.Equal(t, "end_turn", stopReason(&api.ChatResponse{Done: true}))
	assert.Equal(t, "max_tokens", stopReason(&api.ChatResponse{Done: true, DoneReason: "length"}))
	assert.Equal(t, "unload", stopReason(&api.ChatResponse{Done: true, DoneReason: "unload"}))
}

func fakeServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body+"\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteWithToolCall(t *testing.T) {
	var seen map[string]any
	srv := fakeServer(t, http.StatusOK, `{"model":"qwen","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"terminal","arguments":{"command":"npm run build"}}}]},"done":true,"done_reason":"stop","prompt_eval_count":42,"eval_count":7}`, &seen)

	client := NewOllamaClientWithModel(srv.URL, "ollama:qwen")
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("build")},
		Tools:       []tools.ToolDefinition{{Name: "terminal", InputSchema: tools.InputSchema{Type: "object", Properties: map[string]tools.Property{"command": {Type: "string"}}}}},
		MaxTokens:   256,
		Temperature: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, "qwen", seen["model"])
	assert.Equal(t, false, seen["stream"])
	assert.NotEmpty(t, seen["tools"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "terminal", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "npm run build", resp.ToolCalls[0].Parameters["command"])
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, 42, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
}

func TestCompleteText(t *testing.T) {
	srv := fakeServer(t, http.StatusOK, `{"model":"phi4","message":{"role":"assistant","content":"<task_summary>Done</task_summary>"},"done":true,"done_reason":"stop"}`, nil)

	resp, err := NewOllamaClientWithModel(srv.URL, "phi4").Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "<task_summary>Done</task_summary>", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Empty(t, resp.ToolCalls)
}

func TestCompleteModelNotFound(t *testing.T) {
	srv := fakeServer(t, http.StatusNotFound, `{"error":"model \"nope\" not found, try pulling it first"}`, nil)

	_, err := NewOllamaClientWithModel(srv.URL, "nope").Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt), "got %v", err)
}

func TestCompleteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	_, err := NewOllamaClientWithModel(host, "phi4").Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient), "got %v", err)
}
