// Package kernel wires the service together: database, sandbox gateway, LLM client
// factory, metrics, the durable workflow engine with the coding function, and the API.
package kernel

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"sagarmatha/pkg/agent"
	"sagarmatha/pkg/agent/llm"
	llmmetrics "sagarmatha/pkg/agent/middleware/metrics"
	"sagarmatha/pkg/agent/middleware/resilience/retry"
	"sagarmatha/pkg/codeagent"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/exec"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/metrics"
	"sagarmatha/pkg/persistence"
	"sagarmatha/pkg/sandbox"
	"sagarmatha/pkg/webui"
	"sagarmatha/pkg/workflow"
)

// Options override collaborators, mainly for tests and the one-shot CLI.
type Options struct {
	// DatabasePath overrides the configured SQLite location.
	DatabasePath string

	// Sandboxes replaces the configured sandbox backend.
	Sandboxes sandbox.Gateway

	// NewClient replaces the configured LLM client factory.
	NewClient codeagent.ClientFactory

	// Registry receives the Prometheus metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry

	// SecretsPassword lets the API persist secrets changes.
	SecretsPassword string
}

// Kernel owns the long-lived services.
type Kernel struct {
	Config *config.Config
	Logger *logx.Logger

	Database   *sql.DB
	Projects   *persistence.DatabaseOperations
	Runs       *persistence.WorkflowStore
	Sandboxes  sandbox.Gateway
	Registry   *prometheus.Registry
	Recorder   *metrics.RunRecorder // nil when metrics are disabled
	LLMFactory *agent.LLMClientFactory
	Engine     *workflow.Engine
	CodeAgent  *codeagent.Function
	WebServer  *webui.Server

	projectDir   string
	closeSandbox func(ctx context.Context) error
}

// NewKernel creates every service without starting any of them.
func NewKernel(cfg *config.Config, projectDir string, opts Options) (*Kernel, error) {
	config.ApplyDefaults(cfg)

	k := &Kernel{
		Config:     cfg,
		Logger:     logx.NewLogger("kernel"),
		projectDir: projectDir,
	}

	if err := k.initializeDatabase(opts.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := k.initializeServices(opts); err != nil {
		_ = k.Database.Close()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}

	k.Logger.Info("Kernel services initialized successfully")
	return k, nil
}

func (k *Kernel) initializeDatabase(override string) error {
	dbPath := override
	if dbPath == "" {
		dir := filepath.Join(k.projectDir, config.ProjectConfigDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		dbPath = filepath.Join(dir, config.DefaultDatabaseFile)
		if p := k.Config.Database.Path; p != "" {
			if filepath.IsAbs(p) {
				dbPath = p
			} else {
				dbPath = filepath.Join(dir, p)
			}
		}
	}

	db, err := persistence.Open(dbPath)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped by persistence
	}
	k.Database = db
	k.Projects = persistence.NewDatabaseOperations(db)
	k.Runs = persistence.NewWorkflowStore(db)

	k.Logger.Info("Database initialized with schema: %s", dbPath)
	return nil
}

func (k *Kernel) initializeServices(opts Options) error {
	cfg := k.Config

	// Metrics
	k.Registry = opts.Registry
	if k.Registry == nil {
		k.Registry = prometheus.NewRegistry()
		k.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	var llmRecorder llmmetrics.Recorder = llmmetrics.Nop()
	if cfg.Agent.Metrics.Enabled {
		llmRecorder = llmmetrics.NewPrometheusRecorder(k.Registry, cfg.Agent.Metrics.Namespace)
		k.Recorder = metrics.NewRunRecorder(k.Registry, cfg.Agent.Metrics.Namespace)
	}

	// LLM
	k.LLMFactory = agent.NewLLMClientFactory(*cfg.Agent, llmRecorder)
	newClient := opts.NewClient
	if newClient == nil {
		newClient = func(agentName string) (llm.LLMClient, error) {
			return k.LLMFactory.CreateClient(agentName, logx.NewLogger(agentName))
		}
	}

	// Sandboxes
	if opts.Sandboxes != nil {
		k.Sandboxes = opts.Sandboxes
	} else if err := k.initializeSandboxes(); err != nil {
		return err
	}

	// Workflow engine and the coding function
	retryPolicy := retry.NewPolicy(retry.FromConfig(cfg.Workflow.Retry), nil)
	engineOpts := workflow.Options{
		Workers:     cfg.Workflow.Workers,
		QueueSize:   cfg.Workflow.QueueSize,
		MaxAttempts: cfg.Workflow.Retry.MaxAttempts,
		Delay:       retryPolicy.CalculateDelay,
	}
	deps := codeagent.Deps{
		Sandboxes: k.Sandboxes,
		Messages:  k.Projects,
		NewClient: newClient,
	}
	if k.Recorder != nil {
		engineOpts.Observer = k.Recorder
		deps.Observer = k.Recorder
		deps.Results = k.Recorder
	}
	k.Engine = workflow.NewEngine(k.Runs, engineOpts)

	fn, err := codeagent.New(deps, codeagent.SettingsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create coding function: %w", err)
	}
	k.CodeAgent = fn
	if err := k.Engine.Register(fn.Definition()); err != nil {
		return fmt.Errorf("failed to register coding function: %w", err)
	}

	// API
	webDeps := webui.Deps{
		Projects: k.Projects,
		Events:   k.Engine,
		Runs:     k.Runs,
		Sessions: webui.NewTokenResolver(),
	}
	if cfg.Agent.Metrics.Enabled {
		webDeps.Gatherer = k.Registry
		if url := cfg.Agent.Metrics.PrometheusURL; url != "" {
			query, err := metrics.NewQueryService(url, cfg.Agent.Metrics.Namespace)
			if err != nil {
				return fmt.Errorf("failed to create metrics query service: %w", err)
			}
			webDeps.Metrics = query
		}
	}
	k.WebServer, err = webui.NewServer(webDeps, webui.Options{
		Server:          *cfg.Server,
		Auth:            *cfg.Auth,
		TaskEvent:       codeagent.EventName,
		SecretsDir:      k.projectDir,
		SecretsPassword: opts.SecretsPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return nil
}

func (k *Kernel) initializeSandboxes() error {
	sb := k.Config.Sandbox

	templates := sandbox.DefaultTemplates()
	if sb.TemplatesFile != "" {
		path := sb.TemplatesFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(k.projectDir, path)
		}
		loaded, err := sandbox.LoadTemplates(path)
		if err != nil {
			return fmt.Errorf("failed to load sandbox templates: %w", err)
		}
		templates = loaded
	}

	switch sb.Backend {
	case config.SandboxBackendLocal:
		root := sb.WorkspaceDir
		if root == "" {
			root = filepath.Join(k.projectDir, config.ProjectConfigDir, "sandboxes")
		}
		gw, err := sandbox.NewLocalGateway(sandbox.LocalOptions{
			Root:           root,
			Templates:      templates,
			CommandTimeout: sb.CommandTimeout,
			PreviewHost:    sb.PreviewHost,
		})
		if err != nil {
			return fmt.Errorf("failed to create local sandbox gateway: %w", err)
		}
		k.Sandboxes = gw
	default:
		gw, err := sandbox.NewDockerGateway(exec.NewLongRunningDockerExec(), sandbox.DockerOptions{
			Templates: templates,
			Resources: &exec.ResourceLimits{
				CPUs:   sb.Resources.CPUs,
				Memory: sb.Resources.Memory,
				PIDs:   sb.Resources.PIDs,
			},
			CommandTimeout: sb.CommandTimeout,
			PreviewHost:    sb.PreviewHost,
		})
		if err != nil {
			return fmt.Errorf("failed to create docker sandbox gateway: %w", err)
		}
		k.Sandboxes = gw
		k.closeSandbox = gw.Close
	}
	k.Logger.Info("📦 Sandbox backend: %s (templates: %v)", sb.Backend, templates.Names())
	return nil
}

// Run starts the workflow engine and, when serve is set, the API server. It blocks
// until ctx is cancelled or one of them fails.
func (k *Kernel) Run(ctx context.Context, serve bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.Engine.Run(gctx)
	})
	if serve {
		g.Go(func() error {
			return k.WebServer.Serve(gctx)
		})
	}
	k.Logger.Info("🚀 Kernel running (api: %t)", serve)
	return g.Wait() //nolint:wrapcheck // errors are already descriptive
}

// Submit records a task for a new project and emits the task event.
func (k *Kernel) Submit(ctx context.Context, value string) (*persistence.Project, []string, error) {
	project, err := k.Projects.CreateProject(ctx, persistence.ProjectName(value))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create project: %w", err)
	}
	if _, err := k.Projects.CreateMessage(ctx, &persistence.CreateMessageRequest{
		ProjectID: project.ID,
		Content:   value,
		Role:      persistence.RoleUser,
		Type:      persistence.TypeResult,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to record task: %w", err)
	}
	runIDs, err := k.Engine.Send(ctx, codeagent.EventName, codeagent.EventData{Value: value, ProjectID: project.ID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send task event: %w", err)
	}
	return project, runIDs, nil
}

// RunTask submits one task, runs the engine until the task's run finishes, and
// returns the run.
func (k *Kernel) RunTask(ctx context.Context, value string) (*workflow.Run, *codeagent.Output, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- k.Engine.Run(runCtx) }()

	_, runIDs, err := k.Submit(ctx, value)
	if err != nil {
		cancel()
		<-engineDone
		return nil, nil, err
	}
	if len(runIDs) == 0 {
		cancel()
		<-engineDone
		return nil, nil, fmt.Errorf("no function subscribed to %s", codeagent.EventName)
	}

	run, waitErr := k.Engine.WaitForRun(ctx, runIDs[0], 250*time.Millisecond)
	cancel()
	<-engineDone
	if waitErr != nil {
		return run, nil, fmt.Errorf("failed waiting for run %s: %w", runIDs[0], waitErr)
	}

	var out *codeagent.Output
	if run.Status == workflow.RunCompleted && len(run.Output) > 0 {
		out = &codeagent.Output{}
		if err := json.Unmarshal(run.Output, out); err != nil {
			return run, nil, fmt.Errorf("failed to decode output of run %s: %w", run.ID, err)
		}
	}
	return run, out, nil
}

// ProjectDir returns the project directory path.
func (k *Kernel) ProjectDir() string {
	return k.projectDir
}

// Close releases the sandbox backend and the database.
func (k *Kernel) Close() error {
	k.Logger.Info("Stopping kernel services...")

	if k.closeSandbox != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := k.closeSandbox(cleanupCtx); err != nil {
			k.Logger.Warn("⚠️ Error during sandbox cleanup: %v", err)
		}
		cancel()
	}

	if k.Database != nil {
		if err := k.Database.Close(); err != nil {
			return fmt.Errorf("error closing database: %w", err)
		}
	}
	k.Logger.Info("Kernel services stopped")
	return nil
}
