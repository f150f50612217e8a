package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"sagarmatha/pkg/exec"
	"sagarmatha/pkg/logx"
)

const handleCacheSize = 256

// DockerOptions configures a DockerGateway.
type DockerOptions struct {
	Templates      *Templates
	Resources      *exec.ResourceLimits
	CommandTimeout time.Duration
	// PreviewHost, when set, is expanded with {id} and {port} instead of asking docker
	// for the published port (for deployments behind a wildcard proxy).
	PreviewHost string
}

// DockerGateway runs each sandbox as one long-running container.
type DockerGateway struct {
	runtime *exec.LongRunningDockerExec
	opts    DockerOptions
	handles *lru.Cache[string, *dockerHandle]
	logger  *logx.Logger
}

// NewDockerGateway returns a gateway backed by runtime.
func NewDockerGateway(runtime *exec.LongRunningDockerExec, opts DockerOptions) (*DockerGateway, error) {
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	cache, err := lru.New[string, *dockerHandle](handleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}
	return &DockerGateway{
		runtime: runtime,
		opts:    opts,
		handles: cache,
		logger:  logx.NewLogger("sandbox"),
	}, nil
}

// Create starts a container from template.
func (g *DockerGateway) Create(ctx context.Context, template string) (string, error) {
	tmpl, err := g.opts.Templates.Get(template)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	name, err := g.runtime.StartContainer(ctx, id, &exec.ContainerSpec{
		Image:          tmpl.Image,
		WorkDir:        tmpl.WorkDir,
		Env:            tmpl.envList(),
		ResourceLimits: g.opts.Resources,
		PublishPorts:   []int{tmpl.PreviewPort},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox from template %s: %w", template, err)
	}

	if tmpl.StartCommand != "" {
		launch := fmt.Sprintf("nohup sh -c %s > /tmp/sandbox-start.log 2>&1 &", shellQuote(tmpl.StartCommand))
		if out, err := g.runtime.Exec(ctx, name, "sh", "-c", launch); err != nil {
			g.logger.Warn("Start command failed in %s: %v: %s", id, err, strings.TrimSpace(string(out)))
		}
	}

	g.handles.Add(id, g.newHandle(id, name, tmpl.WorkDir))
	g.logger.Info("📦 Sandbox %s created from template %s", id, template)
	return id, nil
}

// Connect returns a handle for id, attaching to the container if this process did not start it.
func (g *DockerGateway) Connect(ctx context.Context, id string) (Handle, error) {
	if h, ok := g.handles.Get(id); ok {
		return h, nil
	}

	name := exec.ContainerName(id)
	if err := g.runtime.Attach(ctx, name); err != nil {
		if errors.Is(err, exec.ErrContainerNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	workDir := "/home/user"
	if info, ok := g.runtime.GetActiveContainers()[name]; ok && info.WorkDir != "" {
		workDir = info.WorkDir
	}
	h := g.newHandle(id, name, workDir)
	g.handles.Add(id, h)
	return h, nil
}

// Kill stops and removes the sandbox container.
func (g *DockerGateway) Kill(ctx context.Context, id string) error {
	g.handles.Remove(id)
	return g.runtime.StopContainer(ctx, exec.ContainerName(id))
}

// Close removes every container this gateway started or attached to.
func (g *DockerGateway) Close(ctx context.Context) error {
	g.handles.Purge()
	return g.runtime.Shutdown(ctx)
}

func (g *DockerGateway) newHandle(id, name, workDir string) *dockerHandle {
	return &dockerHandle{
		id:          id,
		container:   name,
		workDir:     workDir,
		runtime:     g.runtime,
		timeout:     g.opts.CommandTimeout,
		previewHost: g.opts.PreviewHost,
	}
}

type dockerHandle struct {
	id          string
	container   string
	workDir     string
	runtime     *exec.LongRunningDockerExec
	timeout     time.Duration
	previewHost string
}

func (h *dockerHandle) ID() string { return h.id }

func (h *dockerHandle) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(h.workDir, p)
}

func (h *dockerHandle) Run(ctx context.Context, command string, onStdout, onStderr func(string)) (CommandResult, error) {
	res, err := h.runtime.RunIn(ctx, h.container, []string{"sh", "-c", command}, &exec.Opts{
		WorkDir: h.workDir,
		Timeout: h.timeout,
		Stdout:  streamTo(onStdout),
		Stderr:  streamTo(onStderr),
	})
	result := CommandResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, &CommandExitError{Result: result}
	}
	return result, nil
}

func (h *dockerHandle) WriteFile(ctx context.Context, p, content string) error {
	target := h.resolve(p)
	if out, err := h.runtime.Exec(ctx, h.container, "mkdir", "-p", path.Dir(target)); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w: %s", target, err, strings.TrimSpace(string(out)))
	}
	if err := h.runtime.CpToContainer(ctx, h.container, target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

func (h *dockerHandle) ReadFile(ctx context.Context, p string) (string, error) {
	target := h.resolve(p)
	res, err := h.runtime.RunIn(ctx, h.container, []string{"cat", "--", target}, &exec.Opts{Timeout: h.timeout})
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", target, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to read %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (h *dockerHandle) GetHost(ctx context.Context, port int) (string, error) {
	if h.previewHost != "" {
		return formatPreviewHost(h.previewHost, h.id, port), nil
	}
	addr, err := h.runtime.HostPort(ctx, h.container, port)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	return addr, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
