package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/state"
)

func TestRouterStopsAtCap(t *testing.T) {
	for _, maxIter := range []int{1, 10, 15} {
		r := NewRouter(maxIter)
		st := state.New()
		scheduled := 0
		for r.Next(st) == RouterRunning {
			scheduled++
			require.LessOrEqual(t, scheduled, maxIter)
		}
		assert.Equal(t, maxIter, scheduled)
		assert.Equal(t, maxIter, r.Iterations())
		assert.Equal(t, StopIteration, r.Reason())
		assert.Equal(t, RouterStopped, r.State())
	}
}

func TestRouterDefaultCap(t *testing.T) {
	assert.Equal(t, DefaultMaxIterations, NewRouter(0).MaxIterations())
	assert.Equal(t, 15, DefaultMaxIterations)
}

func TestRouterStopsOnSummary(t *testing.T) {
	r := NewRouter(15)
	st := state.New()

	require.Equal(t, RouterRunning, r.Next(st))
	require.NoError(t, st.SetSummary("<task_summary>Done</task_summary>"))

	assert.Equal(t, RouterStopped, r.Next(st))
	assert.Equal(t, 1, r.Iterations())
	assert.Equal(t, StopSummary, r.Reason())
}

func TestRouterStoppedIsTerminal(t *testing.T) {
	r := NewRouter(1)
	st := state.New()
	require.Equal(t, RouterRunning, r.Next(st))
	require.Equal(t, RouterStopped, r.Next(st))

	for i := 0; i < 3; i++ {
		assert.Equal(t, RouterStopped, r.Next(state.New()))
	}
	assert.Equal(t, 1, r.Iterations())
}

func TestRouterStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", RouterRunning.String())
	assert.Equal(t, "STOPPED", RouterStopped.String())
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		messages []llm.CompletionMessage
		want     string
		found    bool
	}{
		{
			name:     "no messages",
			messages: nil,
		},
		{
			name:     "no assistant message",
			messages: []llm.CompletionMessage{llm.NewUserMessage("<task_summary>user text</task_summary>")},
		},
		{
			name: "marker in last assistant message",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "working"},
				{Role: llm.RoleAssistant, Content: "All set <task_summary>Done</task_summary>"},
			},
			want:  "All set <task_summary>Done</task_summary>",
			found: true,
		},
		{
			name: "marker only in earlier assistant message",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "<task_summary>too early</task_summary>"},
				{Role: llm.RoleAssistant, Content: "actually, one more thing"},
			},
		},
		{
			name: "trailing tool message is skipped",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "<task_summary>Done</task_summary>"},
				llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "c1", Content: "ok"}}),
			},
			want:  "<task_summary>Done</task_summary>",
			found: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Detect(tt.messages)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectCompletionIsIdempotent(t *testing.T) {
	messages := []llm.CompletionMessage{{Role: llm.RoleAssistant, Content: "<task_summary>Done</task_summary>"}}

	first, _ := Detect(messages)
	second, _ := Detect(messages)
	assert.Equal(t, first, second)

	st := state.New()
	assert.True(t, DetectCompletion(messages, st))
	assert.True(t, DetectCompletion(messages, st))
	summary, ok := st.Summary()
	require.True(t, ok)
	assert.Equal(t, first, summary)
}

func TestDetectCompletionKeepsFirstSummary(t *testing.T) {
	st := state.New()
	require.True(t, DetectCompletion([]llm.CompletionMessage{{Role: llm.RoleAssistant, Content: "<task_summary>one</task_summary>"}}, st))
	require.True(t, DetectCompletion([]llm.CompletionMessage{{Role: llm.RoleAssistant, Content: "<task_summary>two</task_summary>"}}, st))

	summary, _ := st.Summary()
	assert.Equal(t, "<task_summary>one</task_summary>", summary)
}
