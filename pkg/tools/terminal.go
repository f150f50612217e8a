package tools

import (
	"context"
	"fmt"
	"strings"

	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/sandbox"
	"sagarmatha/pkg/state"
	"sagarmatha/pkg/workflow"
)

// TerminalTool runs a shell command inside the run's sandbox.
type TerminalTool struct {
	sandboxes sandbox.Gateway
	sandboxID string
}

// NewTerminalTool creates a terminal tool bound to one sandbox.
func NewTerminalTool(ctx AgentContext) *TerminalTool {
	return &TerminalTool{sandboxes: ctx.Sandboxes, sandboxID: ctx.SandboxID}
}

func (t *TerminalTool) Name() string {
	return ToolRunTerminalCommand
}

func (t *TerminalTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolRunTerminalCommand,
		Description: "Use the terminal to run commands",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "Shell command to run in the sandbox working directory",
				},
			},
			Required: []string{"command"},
		},
	}
}

func (t *TerminalTool) PromptDocumentation() string {
	return `- **run-terminal-command** - Run a shell command in the sandbox
  - Parameters: command (required)
  - Returns stdout on success, or the failure with captured stdout and stderr
  - Use it to install packages, e.g. "npm install <package> --yes"`
}

// Exec runs the command as a durable step. Command failures, including a
// non-zero exit, are reported to the model rather than returned as errors.
func (t *TerminalTool) Exec(ctx context.Context, args map[string]any, _ *state.State) (*ExecResult, error) {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return &ExecResult{Content: "command is required", IsError: true}, nil
	}

	output, err := workflow.Step(ctx, StepTerminal, func(ctx context.Context) (string, error) {
		var stdout, stderr strings.Builder
		handle, err := t.sandboxes.Connect(ctx, t.sandboxID)
		if err != nil {
			return formatCommandFailure(err, stdout.String(), stderr.String()), nil
		}

		result, err := handle.Run(ctx, command,
			func(chunk string) { stdout.WriteString(chunk) },
			func(chunk string) { stderr.WriteString(chunk) },
		)
		if err != nil {
			logx.Debug(ctx, "tools", "command %q failed: %v", command, err)
			return formatCommandFailure(err, stdout.String(), stderr.String()), nil
		}
		return result.Stdout, nil
	})
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: output}, nil
}

func formatCommandFailure(err error, stdout, stderr string) string {
	return fmt.Sprintf("Command Failed %v \n %s \nstderror %s", err, stdout, stderr)
}

func init() {
	Register(ToolRunTerminalCommand, func(ctx AgentContext) (Tool, error) {
		return NewTerminalTool(ctx), nil
	}, &ToolMeta{
		Name:        ToolRunTerminalCommand,
		Description: "Use the terminal to run commands",
		InputSchema: NewTerminalTool(AgentContext{}).Definition().InputSchema,
	})
}
