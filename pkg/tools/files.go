package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/sandbox"
	"sagarmatha/pkg/state"
	"sagarmatha/pkg/workflow"
)

// CreateOrUpdateFilesTool writes files into the sandbox and records them in the run state.
type CreateOrUpdateFilesTool struct {
	sandboxes sandbox.Gateway
	sandboxID string
	logger    *logx.Logger
}

// NewCreateOrUpdateFilesTool creates the write tool bound to one sandbox.
func NewCreateOrUpdateFilesTool(ctx AgentContext) *CreateOrUpdateFilesTool {
	return &CreateOrUpdateFilesTool{
		sandboxes: ctx.Sandboxes,
		sandboxID: ctx.SandboxID,
		logger:    logx.NewLogger("tools"),
	}
}

func (t *CreateOrUpdateFilesTool) Name() string {
	return ToolCreateOrUpdateFiles
}

func (t *CreateOrUpdateFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCreateOrUpdateFiles,
		Description: "Create or update files in the sandbox",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"files": {
					Type:        "array",
					Description: "Files to write, each with a path and its full content",
					Items: &Property{
						Type: "object",
						Properties: map[string]*Property{
							"path":    {Type: "string", Description: "File path relative to the project root"},
							"content": {Type: "string", Description: "Complete file content"},
						},
						Required: []string{"path", "content"},
					},
				},
			},
			Required: []string{"files"},
		},
	}
}

func (t *CreateOrUpdateFilesTool) PromptDocumentation() string {
	return `- **create-or-update-files** - Create or overwrite files in the sandbox
  - Parameters: files (required) - array of {path, content}
  - Paths are relative, e.g. "app/page.tsx"
  - Returns the full mapping of files written so far in this run`
}

// Exec writes every file inside one durable step. Any failure abandons the
// batch and keeps the files recorded before the call. The run state is updated
// from the step result so replays converge on the same mapping.
func (t *CreateOrUpdateFilesTool) Exec(ctx context.Context, args map[string]any, st *state.State) (*ExecResult, error) {
	var entries []state.File
	if err := decodeArg(args, "files", &entries); err != nil {
		return &ExecResult{Content: err.Error(), IsError: true}, nil
	}

	before := st.Files()
	updated, err := workflow.Step(ctx, StepCreateOrUpdateFiles, func(ctx context.Context) (map[string]string, error) {
		handle, err := t.sandboxes.Connect(ctx, t.sandboxID)
		if err != nil {
			t.logger.Warn("Write skipped, sandbox %s unavailable: %v", t.sandboxID, err)
			return before, nil
		}
		for _, f := range entries {
			if err := handle.WriteFile(ctx, f.Path, f.Content); err != nil {
				t.logger.Warn("Write of %s failed, keeping previous files: %v", f.Path, err)
				return before, nil
			}
		}
		return state.MergeFiles(before, entries), nil
	})
	if err != nil {
		return nil, err
	}

	if err := st.ReplaceFiles(updated); err != nil {
		return nil, fmt.Errorf("failed to record files: %w", err)
	}
	logx.Debug(ctx, "tools", "run now tracks %d file(s)", len(updated))

	body, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode files: %w", err)
	}
	return &ExecResult{Content: string(body)}, nil
}

// ReadFilesTool reads files from the sandbox.
type ReadFilesTool struct {
	sandboxes sandbox.Gateway
	sandboxID string
	logger    *logx.Logger
}

// NewReadFilesTool creates the read tool bound to one sandbox.
func NewReadFilesTool(ctx AgentContext) *ReadFilesTool {
	return &ReadFilesTool{
		sandboxes: ctx.Sandboxes,
		sandboxID: ctx.SandboxID,
		logger:    logx.NewLogger("tools"),
	}
}

func (t *ReadFilesTool) Name() string {
	return ToolReadFiles
}

func (t *ReadFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFiles,
		Description: "Read files from the sandbox",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"files": {
					Type:        "array",
					Description: "Paths of the files to read",
					Items:       &Property{Type: "string"},
				},
			},
			Required: []string{"files"},
		},
	}
}

func (t *ReadFilesTool) PromptDocumentation() string {
	return `- **read-files** - Read files from the sandbox
  - Parameters: files (required) - array of paths
  - Returns a JSON array of {path, content}; an empty array if any file could not be read`
}

// Exec reads all requested files or none: a single failure yields "[]".
func (t *ReadFilesTool) Exec(ctx context.Context, args map[string]any, _ *state.State) (*ExecResult, error) {
	var paths []string
	if err := decodeArg(args, "files", &paths); err != nil {
		return &ExecResult{Content: err.Error(), IsError: true}, nil
	}

	content, err := workflow.Step(ctx, StepReadFiles, func(ctx context.Context) (string, error) {
		handle, err := t.sandboxes.Connect(ctx, t.sandboxID)
		if err != nil {
			t.logger.Warn("Read skipped, sandbox %s unavailable: %v", t.sandboxID, err)
			return "[]", nil
		}
		contents := make([]state.File, 0, len(paths))
		for _, p := range paths {
			text, err := handle.ReadFile(ctx, p)
			if err != nil {
				t.logger.Warn("Read of %s failed: %v", p, err)
				return "[]", nil
			}
			contents = append(contents, state.File{Path: p, Content: text})
		}
		body, err := json.Marshal(contents)
		if err != nil {
			return "[]", nil //nolint:nilerr // the model sees an empty result
		}
		return string(body), nil
	})
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: content}, nil
}

func init() {
	Register(ToolCreateOrUpdateFiles, func(ctx AgentContext) (Tool, error) {
		return NewCreateOrUpdateFilesTool(ctx), nil
	}, &ToolMeta{
		Name:        ToolCreateOrUpdateFiles,
		Description: "Create or update files in the sandbox",
		InputSchema: NewCreateOrUpdateFilesTool(AgentContext{}).Definition().InputSchema,
	})

	Register(ToolReadFiles, func(ctx AgentContext) (Tool, error) {
		return NewReadFilesTool(ctx), nil
	}, &ToolMeta{
		Name:        ToolReadFiles,
		Description: "Read files from the sandbox",
		InputSchema: NewReadFilesTool(AgentContext{}).Definition().InputSchema,
	})
}
