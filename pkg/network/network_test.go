package network

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/internal/mocks"
	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/state"
	"sagarmatha/pkg/tools"
	"sagarmatha/pkg/workflow"
)

type recordingObserver struct {
	mu    sync.Mutex
	turns []int
	tools []string
}

func (o *recordingObserver) TurnFinished(_ string, index, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, index)
}

func (o *recordingObserver) ToolExecuted(tool string, _ bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, tool)
}

type fixture struct {
	llm       *mocks.MockLLMClient
	sandboxes *mocks.MockSandboxGateway
	sandboxID string
	observer  *recordingObserver
	network   *Network
}

func newFixture(t *testing.T, maxIter, maxInferences int) *fixture {
	t.Helper()

	sandboxes := mocks.NewMockSandboxGateway()
	id, err := sandboxes.Create(context.Background(), "base")
	require.NoError(t, err)

	provider := tools.NewProvider(tools.AgentContext{Sandboxes: sandboxes, SandboxID: id}, tools.CodeAgentTools)
	client := mocks.NewMockLLMClient()
	observer := &recordingObserver{}

	agent, err := NewAgent(AgentConfig{
		Name:                 "code-agent",
		System:               "You are a coding agent.",
		MaxInferencesPerTurn: maxInferences,
	}, client, provider, observer)
	require.NoError(t, err)

	return &fixture{
		llm:       client,
		sandboxes: sandboxes,
		sandboxID: id,
		observer:  observer,
		network:   New("coding-agent-network", agent, Options{MaxIterations: maxIter, Observer: observer}),
	}
}

func writeCall(id string, files ...state.File) llm.CompletionResponse {
	entries := make([]any, 0, len(files))
	for _, f := range files {
		entries = append(entries, map[string]any{"path": f.Path, "content": f.Content})
	}
	return mocks.ToolCallResponse(id, tools.ToolCreateOrUpdateFiles, map[string]any{"files": entries})
}

func TestRunCompletesInFirstTurn(t *testing.T) {
	f := newFixture(t, 15, 10)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		writeCall("c1", state.File{Path: "app/page.tsx", Content: "export default function Page() {}"}),
		mocks.TextResponse("Built the page.\n<task_summary>Done</task_summary>"),
	})

	st := state.New()
	result, err := f.network.Run(context.Background(), "build a landing page", st)
	require.NoError(t, err)

	assert.Equal(t, RouterStopped, result.State)
	assert.Equal(t, StopSummary, result.StopReason)
	assert.True(t, result.Completed())
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, map[string]string{"app/page.tsx": "export default function Page() {}"}, result.Files)
	assert.Contains(t, result.Summary, "<task_summary>Done</task_summary>")
	assert.Equal(t, 2, f.llm.GetCompleteCallCount(), "no inference after the summary")

	assert.Equal(t, "export default function Page() {}", f.sandboxes.Files(f.sandboxID)["app/page.tsx"])
	assert.Equal(t, []int{1}, f.observer.turns)
	assert.Equal(t, []string{tools.ToolCreateOrUpdateFiles}, f.observer.tools)
}

func TestRunStopsAtIterationCap(t *testing.T) {
	f := newFixture(t, 10, 10)
	f.llm.RespondWith("still thinking about it")

	st := state.New()
	result, err := f.network.Run(context.Background(), "build a landing page", st)
	require.NoError(t, err)

	assert.Equal(t, RouterStopped, result.State)
	assert.Equal(t, StopIteration, result.StopReason)
	assert.False(t, result.Completed())
	assert.Equal(t, 10, result.Iterations)
	assert.Empty(t, result.Summary)
	assert.False(t, st.HasSummary())
	assert.Equal(t, 10, f.llm.GetCompleteCallCount())
	assert.Len(t, result.Turns, 10)
}

func TestRunStopsOnUnclosedMarker(t *testing.T) {
	f := newFixture(t, 15, 10)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		mocks.TextResponse("<task_summary>not closed"),
		mocks.TextResponse("never requested"),
	})

	result, err := f.network.Run(context.Background(), "task", state.New())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "<task_summary>not closed", result.Summary)
	assert.Equal(t, 1, f.llm.GetCompleteCallCount())
}

func TestTurnFeedsToolResultsBack(t *testing.T) {
	f := newFixture(t, 1, 10)
	f.sandboxes.Seed(f.sandboxID, "package.json", `{"name":"app"}`)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolCallResponse("r1", tools.ToolReadFiles, map[string]any{"files": []any{"package.json"}}),
		mocks.TextResponse("<task_summary>read it</task_summary>"),
	})

	_, err := f.network.Run(context.Background(), "inspect", state.New())
	require.NoError(t, err)

	messages := f.llm.LastCompleteCallMessages()
	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, messages[2].Role)
	require.Equal(t, llm.RoleTool, messages[3].Role)
	require.Len(t, messages[3].ToolResults, 1)
	assert.Equal(t, "r1", messages[3].ToolResults[0].ToolCallID)
	assert.JSONEq(t, `[{"path":"package.json","content":"{\"name\":\"app\"}"}]`, messages[3].ToolResults[0].Content)
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	f := newFixture(t, 1, 10)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolCallResponse("x1", "delete-everything", nil),
		mocks.TextResponse("<task_summary>gave up</task_summary>"),
	})

	_, err := f.network.Run(context.Background(), "task", state.New())
	require.NoError(t, err)

	messages := f.llm.LastCompleteCallMessages()
	last := messages[len(messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "not allowed")
}

func TestTurnBoundedByInferenceCap(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolCallResponse("t", tools.ToolRunTerminalCommand, map[string]any{"command": "ls"}),
	})

	result, err := f.network.Run(context.Background(), "task", state.New())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 6, f.llm.GetCompleteCallCount())
	assert.Equal(t, 6, f.sandboxes.CommandCount())
	assert.Equal(t, 3, result.Turns[0].ToolCalls)
}

func TestFilesAccumulateAcrossTurns(t *testing.T) {
	f := newFixture(t, 3, 10)
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		writeCall("c1", state.File{Path: "a.txt", Content: "1"}, state.File{Path: "b.txt", Content: "1"}),
		mocks.TextResponse("turn one done"),
		writeCall("c2", state.File{Path: "b.txt", Content: "2"}),
		mocks.TextResponse("turn two done"),
		writeCall("c3", state.File{Path: "c.txt", Content: "3"}),
		mocks.TextResponse("<task_summary>Done</task_summary>"),
	})

	result, err := f.network.Run(context.Background(), "task", state.New())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"}, result.Files)
}

func TestFailedWriteKeepsPriorFiles(t *testing.T) {
	f := newFixture(t, 1, 10)
	f.sandboxes.FailWrite = func(path string) error {
		if path == "two.txt" {
			return errors.New("disk full")
		}
		return nil
	}
	f.llm.RespondWithSequence([]llm.CompletionResponse{
		writeCall("c1", state.File{Path: "zero.txt", Content: "0"}),
		writeCall("c2",
			state.File{Path: "one.txt", Content: "1"},
			state.File{Path: "two.txt", Content: "2"},
			state.File{Path: "three.txt", Content: "3"},
		),
		mocks.TextResponse("<task_summary>partial</task_summary>"),
	})

	st := state.New()
	_, err := f.network.Run(context.Background(), "task", st)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"zero.txt": "0"}, st.Files())
	assert.NotContains(t, f.sandboxes.Files(f.sandboxID), "three.txt")
}

func TestPermanentLLMErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, 15, 10)
	f.llm.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key"))

	_, err := f.network.Run(context.Background(), "task", state.New())
	require.Error(t, err)

	var nonRetriable *workflow.NonRetriableError
	assert.ErrorAs(t, err, &nonRetriable)
}

func TestTransientLLMErrorPropagates(t *testing.T) {
	f := newFixture(t, 15, 10)
	f.llm.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset"))

	_, err := f.network.Run(context.Background(), "task", state.New())
	require.Error(t, err)

	var nonRetriable *workflow.NonRetriableError
	assert.False(t, errors.As(err, &nonRetriable))
	assert.Contains(t, err.Error(), "turn 1")
}

func TestRunWithoutAgent(t *testing.T) {
	_, err := New("empty", nil, Options{}).Run(context.Background(), "task", state.New())
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestNewAgentValidation(t *testing.T) {
	provider := tools.NewProvider(tools.AgentContext{}, nil)
	_, err := NewAgent(AgentConfig{}, mocks.NewMockLLMClient(), provider, nil)
	require.Error(t, err)
	_, err = NewAgent(AgentConfig{Name: "a"}, nil, provider, nil)
	require.Error(t, err)
	_, err = NewAgent(AgentConfig{Name: "a"}, mocks.NewMockLLMClient(), nil, nil)
	require.Error(t, err)
}

func TestLargeToolResultIsTruncated(t *testing.T) {
	sandboxes := mocks.NewMockSandboxGateway()
	id, err := sandboxes.Create(context.Background(), "base")
	require.NoError(t, err)
	big := strings.Repeat("lorem ipsum dolor sit amet ", 2000)
	sandboxes.Seed(id, "README.md", big)

	client := mocks.NewMockLLMClient()
	client.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolCallResponse("r1", tools.ToolReadFiles, map[string]any{"files": []any{"README.md"}}),
		mocks.TextResponse("<task_summary>read</task_summary>"),
	})
	provider := tools.NewProvider(tools.AgentContext{Sandboxes: sandboxes, SandboxID: id}, tools.CodeAgentTools)
	agent, err := NewAgent(AgentConfig{
		Name:                "code-agent",
		MaxToolResultTokens: 100,
		MaxTokens:           1024,
		Temperature:         0.4,
	}, client, provider, nil)
	require.NoError(t, err)

	_, err = New("net", agent, Options{MaxIterations: 1}).Run(context.Background(), "read the readme", state.New())
	require.NoError(t, err)

	seen := client.CompleteCalls
	require.Len(t, seen, 2)
	assert.Equal(t, 1024, seen[0].MaxTokens)
	assert.InDelta(t, 0.4, seen[0].Temperature, 0.0001)
	assert.Len(t, seen[0].Tools, len(tools.CodeAgentTools))

	last := seen[1].Messages[len(seen[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	content := last.ToolResults[0].Content
	assert.Less(t, len(content), len(big))
	assert.True(t, strings.HasSuffix(content, "..."))
}

func TestLastContent(t *testing.T) {
	assert.Empty(t, lastContent(nil))
	assert.Equal(t, "hi", lastContent([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	assert.Equal(t, "tool out", lastContent([]llm.CompletionMessage{
		llm.NewUserMessage("hi"),
		llm.NewToolMessage([]llm.ToolResult{{ToolCallID: "1", Content: "tool out"}}),
	}))
}
