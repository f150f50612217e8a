package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"sagarmatha/pkg/sandbox"
)

// AgentContext carries what tool factories need for one run.
type AgentContext struct {
	Sandboxes sandbox.Gateway
	SandboxID string
}

// ToolFactory creates a tool instance for an agent context.
type ToolFactory func(ctx AgentContext) (Tool, error)

// ToolMeta contains metadata about a tool for documentation and discovery.
type ToolMeta struct {
	Name        string
	Description string
	InputSchema InputSchema
}

type toolDescriptor struct {
	meta    ToolMeta
	factory ToolFactory
}

// immutableRegistry is the global tool registry; sealed once the first provider exists.
//
//nolint:govet // logical grouping preferred
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

//nolint:gochecknoglobals // factory pattern requires global registry
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory. Panics after the registry is sealed.
func Register(name string, factory ToolFactory, meta *ToolMeta) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", name))
	}
	globalRegistry.tools[name] = toolDescriptor{meta: *meta, factory: factory}
}

// Seal prevents further registrations.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// ListTools returns metadata for all registered tools, sorted by name.
func ListTools() []ToolMeta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolMeta, 0, len(globalRegistry.tools))
	for _, desc := range globalRegistry.tools {
		result = append(result, desc.meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ToolProvider creates and caches tool instances for one agent context.
//
//nolint:govet // logical grouping preferred
type ToolProvider struct {
	ctx      AgentContext
	tools    map[string]Tool
	allowed  []string
	allowSet map[string]struct{}
	mu       sync.Mutex
}

// NewProvider creates a provider exposing allowedTools. Seals the registry.
func NewProvider(ctx AgentContext, allowedTools []string) *ToolProvider {
	Seal()

	allowSet := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowSet[name] = struct{}{}
	}
	return &ToolProvider{
		ctx:      ctx,
		tools:    make(map[string]Tool),
		allowed:  append([]string(nil), allowedTools...),
		allowSet: allowSet,
	}
}

// Get returns a tool instance, creating it lazily.
func (p *ToolProvider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("tool '%s' not allowed in this context", name)
	}
	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("tool '%s' not registered", name)
	}

	tool, err := desc.factory(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}
	p.tools[name] = tool
	return tool, nil
}

// Definitions returns the model-facing definitions of all allowed tools, in allow-list order.
func (p *ToolProvider) Definitions() ([]ToolDefinition, error) {
	defs := make([]ToolDefinition, 0, len(p.allowed))
	for _, name := range p.allowed {
		tool, err := p.Get(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, tool.Definition())
	}
	return defs, nil
}

// List returns metadata for all allowed tools.
func (p *ToolProvider) List() []ToolMeta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolMeta, 0, len(p.allowed))
	for _, name := range p.allowed {
		if desc, ok := globalRegistry.tools[name]; ok {
			result = append(result, desc.meta)
		}
	}
	return result
}

// GenerateToolDocumentation renders markdown documentation for the allowed tools.
func (p *ToolProvider) GenerateToolDocumentation() string {
	if len(p.allowed) == 0 {
		return "No tools available"
	}

	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")
	for _, name := range p.allowed {
		tool, err := p.Get(name)
		if err != nil {
			continue
		}
		doc.WriteString(tool.PromptDocumentation())
		doc.WriteString("\n")
	}
	return doc.String()
}
