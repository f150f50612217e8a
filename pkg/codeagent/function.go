// Package codeagent is the durable workflow function that turns a task description into
// a Next.js app: it provisions a sandbox, runs the coding-agent network in it, and saves
// the outcome as one project message.
package codeagent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/network"
	"sagarmatha/pkg/sandbox"
	"sagarmatha/pkg/state"
	"sagarmatha/pkg/tools"
	"sagarmatha/pkg/workflow"
)

// Workflow identifiers. Step names are part of the durable record of a run.
const (
	FunctionID  = "sagarmatha-ai"
	EventName   = "api/sagarmatha.ai"
	NetworkName = "coding-agent-network"
	AgentName   = "code-agent"

	AgentDescription = "A helpful assistant for building and debugging modern Next.js applications."

	StepGetSandboxID  = "get-sandbox-id"
	StepGetSandboxURL = "get-sandbox-url"
	StepSaveResult    = "save-result"
)

// EventData is the payload of EventName.
type EventData struct {
	Value     string `json:"value"`
	ProjectID string `json:"projectId"`
}

// Output is what a completed run returns.
type Output struct {
	Files     map[string]string `json:"files"`
	URL       string            `json:"url"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	MessageID string            `json:"messageId,omitempty"`
	Succeeded bool              `json:"succeeded"`
}

// ClientFactory returns the LLM client for a named agent.
type ClientFactory func(agentName string) (llm.LLMClient, error)

// Deps are the collaborators of the function.
type Deps struct {
	Sandboxes sandbox.Gateway
	Messages  MessageStore
	NewClient ClientFactory
	Observer  network.Observer // optional
	Results   ResultRecorder   // optional
}

// Settings tune one run.
type Settings struct {
	Template             string
	PreviewScheme        string
	PreviewPort          int
	MaxIterations        int
	MaxInferencesPerTurn int
	MaxTokens            int
	Temperature          float32
}

// SettingsFromConfig derives Settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		Template:      config.DefaultSandboxTemplate,
		PreviewScheme: config.DefaultPreviewScheme,
		PreviewPort:   config.DefaultPreviewPort,
		MaxIterations: network.DefaultMaxIterations,
	}
	if cfg == nil {
		return s
	}
	if sb := cfg.Sandbox; sb != nil {
		if sb.Template != "" {
			s.Template = sb.Template
		}
		if sb.PreviewScheme != "" {
			s.PreviewScheme = sb.PreviewScheme
		}
		if sb.PreviewPort > 0 {
			s.PreviewPort = sb.PreviewPort
		}
	}
	if ag := cfg.Agent; ag != nil {
		if ag.MaxIterations > 0 {
			s.MaxIterations = ag.MaxIterations
		}
		s.MaxInferencesPerTurn = ag.MaxInferencesPerTurn
		s.MaxTokens = ag.MaxTokens
		s.Temperature = ag.Temperature
	}
	return s
}

// Function runs coding tasks.
type Function struct {
	deps      Deps
	settings  Settings
	persister *Persister
	logger    *logx.Logger
}

// New creates the function.
func New(deps Deps, settings Settings) (*Function, error) {
	if deps.Sandboxes == nil {
		return nil, fmt.Errorf("codeagent requires a sandbox gateway")
	}
	if deps.Messages == nil {
		return nil, fmt.Errorf("codeagent requires a message store")
	}
	if deps.NewClient == nil {
		return nil, fmt.Errorf("codeagent requires an LLM client factory")
	}
	if settings.Template == "" {
		settings.Template = config.DefaultSandboxTemplate
	}
	if settings.PreviewScheme == "" {
		settings.PreviewScheme = config.DefaultPreviewScheme
	}
	if settings.PreviewPort <= 0 {
		settings.PreviewPort = config.DefaultPreviewPort
	}
	return &Function{
		deps:      deps,
		settings:  settings,
		persister: NewPersister(deps.Messages, deps.Results),
		logger:    logx.NewLogger("codeagent"),
	}, nil
}

// Definition returns the workflow registration for the function.
func (f *Function) Definition() *workflow.Function {
	return &workflow.Function{
		ID:      FunctionID,
		Trigger: EventName,
		Handler: f.handle,
	}
}

func (f *Function) handle(ctx context.Context, ev workflow.Event) (any, error) {
	var data EventData
	if err := ev.Decode(&data); err != nil {
		return nil, workflow.NonRetriable(fmt.Errorf("invalid %s payload: %w", EventName, err))
	}
	return f.Execute(ctx, data)
}

// Execute runs one task. Inside a workflow run every side effect is a memoized step,
// so a retried attempt replays the finished work and saves the result once.
func (f *Function) Execute(ctx context.Context, data EventData) (*Output, error) {
	if strings.TrimSpace(data.Value) == "" {
		return nil, workflow.NonRetriable(errors.New("task value is required"))
	}
	if data.ProjectID == "" {
		return nil, workflow.NonRetriable(errors.New("projectId is required"))
	}

	sandboxID, err := workflow.Step(ctx, StepGetSandboxID, func(ctx context.Context) (string, error) {
		return f.deps.Sandboxes.Create(ctx, f.settings.Template)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	f.logger.Info("📦 Sandbox %s ready for project %s", sandboxID, data.ProjectID)

	net, err := f.buildNetwork(sandboxID)
	if err != nil {
		return nil, workflow.NonRetriable(err)
	}

	st := state.New()
	result, runErr := net.Run(ctx, data.Value, st)
	if runErr != nil {
		var nonRetriable *workflow.NonRetriableError
		if !errors.As(runErr, &nonRetriable) && !workflow.LastAttempt(ctx) {
			return nil, runErr
		}
		// The run is about to fail for good: record the failure for the project.
		snap := st.Snapshot()
		if _, err := f.save(ctx, Outcome{ProjectID: data.ProjectID, Files: snap.Files}); err != nil {
			f.logger.Error("Failed to save error message for project %s: %v", data.ProjectID, err)
		}
		return nil, runErr
	}

	url, err := workflow.Step(ctx, StepGetSandboxURL, func(ctx context.Context) (string, error) {
		return f.sandboxURL(ctx, sandboxID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox url: %w", err)
	}

	outcome := Outcome{
		Files:      result.Files,
		ProjectID:  data.ProjectID,
		SandboxURL: url,
		Summary:    result.Summary,
	}
	messageID, err := f.save(ctx, outcome)
	if err != nil {
		return nil, err
	}

	return &Output{
		Files:     result.Files,
		URL:       url,
		Title:     FragmentTitle,
		Summary:   result.Summary,
		MessageID: messageID,
		Succeeded: outcome.Succeeded(),
	}, nil
}

// save is the single persistence step of a run.
func (f *Function) save(ctx context.Context, o Outcome) (string, error) {
	o.RunID = workflow.RunID(ctx)
	return workflow.Step(ctx, StepSaveResult, func(ctx context.Context) (string, error) {
		msg, err := f.persister.Save(ctx, o)
		if err != nil {
			return "", err
		}
		return msg.ID, nil
	})
}

func (f *Function) buildNetwork(sandboxID string) (*network.Network, error) {
	client, err := f.deps.NewClient(AgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client for %s: %w", AgentName, err)
	}

	provider := tools.NewProvider(tools.AgentContext{
		Sandboxes: f.deps.Sandboxes,
		SandboxID: sandboxID,
	}, tools.CodeAgentTools)

	agent, err := network.NewAgent(network.AgentConfig{
		Name:                 AgentName,
		Description:          AgentDescription,
		System:               Prompt(provider.GenerateToolDocumentation()),
		MaxInferencesPerTurn: f.settings.MaxInferencesPerTurn,
		MaxTokens:            f.settings.MaxTokens,
		Temperature:          f.settings.Temperature,
	}, client, provider, f.deps.Observer)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}

	return network.New(NetworkName, agent, network.Options{
		MaxIterations: f.settings.MaxIterations,
		Observer:      f.deps.Observer,
	}), nil
}

func (f *Function) sandboxURL(ctx context.Context, sandboxID string) (string, error) {
	handle, err := f.deps.Sandboxes.Connect(ctx, sandboxID)
	if err != nil {
		return "", fmt.Errorf("failed to connect to sandbox %s: %w", sandboxID, err)
	}
	host, err := handle.GetHost(ctx, f.settings.PreviewPort)
	if err != nil {
		return "", fmt.Errorf("failed to get host for sandbox %s: %w", sandboxID, err)
	}
	return f.settings.PreviewScheme + "://" + host, nil
}
