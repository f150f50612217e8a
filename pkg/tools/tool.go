// Package tools provides the sandbox tools the coding agent calls and the registry that
// hands configured tool instances to an agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"sagarmatha/pkg/state"
)

// Tool is a capability the model can invoke. Implementations receive the run's shared
// state explicitly and must not retain it between calls.
type Tool interface {
	Name() string

	// Definition is the schema advertised to the model.
	Definition() ToolDefinition

	// PromptDocumentation is a markdown snippet for system prompts.
	PromptDocumentation() string

	// Exec runs the tool. Failures the model should see are returned in the result;
	// a non-nil error means the call could not be attempted at all.
	Exec(ctx context.Context, args map[string]any, st *state.State) (*ExecResult, error)
}

// ToolDefinition describes a tool to an LLM backend.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is a JSON-schema object.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one JSON-schema property.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// ExecResult is what the model sees as the tool's output.
type ExecResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToMap renders the schema as a plain map for SDKs that take untyped parameters.
func (s InputSchema) ToMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.toMap()
	}
	out := map[string]any{
		"type":       s.Type,
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p Property) toMap() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.toMap()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.toMap()
		}
		out["properties"] = props
	}
	if len(p.Required) > 0 {
		out["required"] = p.Required
	}
	return out
}

// decodeArg re-decodes args[key] into v, tolerating the loosely typed maps
// SDKs produce.
func decodeArg(args map[string]any, key string, v any) error {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%s is malformed: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s has the wrong shape: %w", key, err)
	}
	return nil
}
