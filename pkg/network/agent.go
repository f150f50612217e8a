package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/llmerrors"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/state"
	"sagarmatha/pkg/tools"
	"sagarmatha/pkg/utils"
	"sagarmatha/pkg/workflow"
)

const (
	// DefaultMaxInferencesPerTurn bounds the model calls inside one turn.
	DefaultMaxInferencesPerTurn = 10

	// DefaultMaxToolResultTokens bounds a tool result fed back to the model.
	DefaultMaxToolResultTokens = 16000

	// failedPromptChars is how much of the last message an LLM failure log keeps.
	failedPromptChars = 400
)

// ToolProvider is what an agent needs from a tool provider.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
	Definitions() ([]tools.ToolDefinition, error)
}

// AgentConfig describes one LLM-backed agent.
//
//nolint:govet // fieldalignment: fields ordered for readability
type AgentConfig struct {
	Name        string
	Description string
	System      string

	MaxInferencesPerTurn int
	MaxToolResultTokens  int
	MaxTokens            int
	Temperature          float32
}

// Agent is one LLM-backed actor with a system prompt and a tool set.
type Agent struct {
	cfg      AgentConfig
	client   llm.LLMClient
	tools    ToolProvider
	observer Observer
	counter  *utils.TokenCounter
	logger   *logx.Logger
}

// NewAgent creates an agent. observer may be nil.
func NewAgent(cfg AgentConfig, client llm.LLMClient, provider ToolProvider, observer Observer) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("agent %s requires an LLM client", cfg.Name)
	}
	if provider == nil {
		return nil, fmt.Errorf("agent %s requires a tool provider", cfg.Name)
	}
	if cfg.MaxInferencesPerTurn <= 0 {
		cfg.MaxInferencesPerTurn = DefaultMaxInferencesPerTurn
	}
	if cfg.MaxToolResultTokens <= 0 {
		cfg.MaxToolResultTokens = DefaultMaxToolResultTokens
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if observer == nil {
		observer = nopObserver{}
	}
	logger := logx.NewLogger(cfg.Name)
	counter, err := utils.NewTokenCounter(client.GetModelName())
	if err != nil {
		// A nil counter estimates four characters per token.
		logger.Warn("Token counter unavailable, estimating tool result size: %v", err)
	}
	return &Agent{
		cfg:      cfg,
		client:   client,
		tools:    provider,
		observer: observer,
		counter:  counter,
		logger:   logger,
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.cfg.Description }

// Turn is the record of one agent invocation.
type Turn struct {
	Index     int                     `json:"index"`
	Messages  []llm.CompletionMessage `json:"messages"`
	ToolCalls int                     `json:"tool_calls"`
	Duration  time.Duration           `json:"duration"`
}

// inferenceStep names the memoized model call, e.g. "code-agent-inference".
func (a *Agent) inferenceStep() string {
	return a.cfg.Name + "-inference"
}

// Turn invokes the agent once. The model is called repeatedly until it answers without
// tool calls or MaxInferencesPerTurn is reached; every tool call is executed against st
// before the next call. history holds the conversation so far, without the system prompt.
// Only the messages produced by this turn are returned.
func (a *Agent) Turn(ctx context.Context, index int, history []llm.CompletionMessage, st *state.State) (*Turn, error) {
	start := time.Now()
	turn := &Turn{Index: index}

	toolDefs, err := a.tools.Definitions()
	if err != nil {
		return nil, fmt.Errorf("failed to load tool definitions: %w", err)
	}

	for inference := 0; inference < a.cfg.MaxInferencesPerTurn; inference++ {
		messages := make([]llm.CompletionMessage, 0, len(history)+len(turn.Messages)+1)
		messages = append(messages, llm.NewSystemMessage(a.cfg.System))
		messages = append(messages, history...)
		messages = append(messages, turn.Messages...)

		req := llm.NewCompletionRequest(messages)
		req.Tools = toolDefs
		req.MaxTokens = a.cfg.MaxTokens
		req.Temperature = a.cfg.Temperature

		a.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d max tokens, %d tools (turn %d, inference %d)",
			a.client.GetModelName(), len(messages), req.MaxTokens, len(toolDefs), index, inference+1)

		callStart := time.Now()
		resp, err := workflow.Step(ctx, a.inferenceStep(), func(ctx context.Context) (llm.CompletionResponse, error) {
			return a.client.Complete(ctx, req)
		})
		if err != nil {
			a.logger.Error("❌ LLM call failed after %.3gs: %v (last message: %s)", time.Since(callStart).Seconds(), err,
				llmerrors.SanitizePrompt(lastContent(messages), failedPromptChars))
			return nil, classifyInferenceError(err)
		}

		a.logger.Info("✅ LLM call completed in %.3gs, response length: %d chars, tool calls: %d",
			time.Since(callStart).Seconds(), len(resp.Content), len(resp.ToolCalls))

		turn.Messages = append(turn.Messages, llm.NewAssistantMessage(resp))
		if len(resp.ToolCalls) == 0 {
			turn.Duration = time.Since(start)
			return turn, nil
		}

		// Every tool call needs a result before the next model call.
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			results = append(results, a.execTool(ctx, &resp.ToolCalls[i], st))
		}
		turn.ToolCalls += len(results)
		turn.Messages = append(turn.Messages, llm.NewToolMessage(results))
	}

	a.logger.Warn("⚠️  Maximum tool iterations (%d) reached in turn %d", a.cfg.MaxInferencesPerTurn, index)
	turn.Duration = time.Since(start)
	return turn, nil
}

// execTool runs one call. Failures become error results the model can read.
func (a *Agent) execTool(ctx context.Context, call *llm.ToolCall, st *state.State) llm.ToolResult {
	result := llm.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, err := a.tools.Get(call.Name)
	if err != nil {
		a.logger.Error("Failed to get tool %s: %v", call.Name, err)
		result.Content = err.Error()
		result.IsError = true
		a.observer.ToolExecuted(call.Name, true, 0)
		return result
	}

	a.logger.Info("Executing tool: %s", call.Name)
	start := time.Now()
	out, err := tool.Exec(ctx, call.Parameters, st)
	duration := time.Since(start)

	switch {
	case err != nil:
		a.logger.Error("Tool %s failed after %.3fs: %v", call.Name, duration.Seconds(), err)
		result.Content = fmt.Sprintf("Tool failed: %v", err)
		result.IsError = true
	case out == nil:
		result.Content = ""
	default:
		a.logger.Info("Tool %s completed in %.3fs", call.Name, duration.Seconds())
		result.Content = a.counter.TruncateToTokenLimit(out.Content, a.cfg.MaxToolResultTokens)
		result.IsError = out.IsError
	}
	a.observer.ToolExecuted(call.Name, result.IsError, duration)
	return result
}

// lastContent returns the text of the newest message, or of its tool results.
func lastContent(messages []llm.CompletionMessage) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if last.Content != "" || len(last.ToolResults) == 0 {
		return last.Content
	}
	return last.ToolResults[len(last.ToolResults)-1].Content
}

// classifyInferenceError stops function retries for errors no retry can fix.
func classifyInferenceError(err error) error {
	wrapped := fmt.Errorf("LLM completion failed: %w", err)
	var nonRetriable *workflow.NonRetriableError
	if errors.As(err, &nonRetriable) || llmerrors.IsPermanent(err) {
		return workflow.NonRetriable(wrapped)
	}
	return wrapped
}
