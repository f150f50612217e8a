package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"sagarmatha/pkg/exec"
	"sagarmatha/pkg/logx"
)

// LocalOptions configures a LocalGateway.
type LocalOptions struct {
	Root           string // parent directory of all sandbox directories
	Templates      *Templates
	CommandTimeout time.Duration
	PreviewHost    string // default "localhost:{port}"
}

// LocalGateway keeps each sandbox in its own directory on the host. Commands run
// unisolated; use it for development only.
type LocalGateway struct {
	executor *exec.LocalExec
	opts     LocalOptions
	handles  *lru.Cache[string, *localHandle]
	logger   *logx.Logger
}

// NewLocalGateway creates opts.Root if needed.
func NewLocalGateway(opts LocalOptions) (*LocalGateway, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("local sandbox root is required")
	}
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	if opts.PreviewHost == "" {
		opts.PreviewHost = "localhost:{port}"
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %s: %w", opts.Root, err)
	}
	cache, err := lru.New[string, *localHandle](handleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}
	return &LocalGateway{
		executor: exec.NewLocalExec(),
		opts:     opts,
		handles:  cache,
		logger:   logx.NewLogger("sandbox"),
	}, nil
}

func (g *LocalGateway) Create(ctx context.Context, template string) (string, error) {
	tmpl, err := g.opts.Templates.Get(template)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	dir := filepath.Join(g.opts.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	h := g.newHandle(id, tmpl)
	if tmpl.StartCommand != "" {
		launch := fmt.Sprintf("nohup sh -c %s > .sandbox-start.log 2>&1 &", shellQuote(tmpl.StartCommand))
		if _, err := h.Run(ctx, launch, nil, nil); err != nil {
			g.logger.Warn("Start command failed in %s: %v", id, err)
		}
	}

	g.handles.Add(id, h)
	g.logger.Info("📦 Sandbox %s created from template %s at %s", id, template, dir)
	return id, nil
}

func (g *LocalGateway) Connect(_ context.Context, id string) (Handle, error) {
	if h, ok := g.handles.Get(id); ok {
		return h, nil
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if info, err := os.Stat(filepath.Join(g.opts.Root, id)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Template is not recorded on disk; the workdir mapping only needs a prefix.
	h := g.newHandle(id, Template{WorkDir: "/home/user"})
	g.handles.Add(id, h)
	return h, nil
}

func (g *LocalGateway) Kill(_ context.Context, id string) error {
	g.handles.Remove(id)
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return os.RemoveAll(filepath.Join(g.opts.Root, id))
}

func (g *LocalGateway) newHandle(id string, tmpl Template) *localHandle {
	return &localHandle{
		id:          id,
		dir:         filepath.Join(g.opts.Root, id),
		workDir:     tmpl.WorkDir,
		env:         tmpl.envList(),
		executor:    g.executor,
		timeout:     g.opts.CommandTimeout,
		previewHost: g.opts.PreviewHost,
	}
}

type localHandle struct {
	id          string
	dir         string
	workDir     string // sandbox-side path the directory stands in for
	env         []string
	executor    *exec.LocalExec
	timeout     time.Duration
	previewHost string
}

func (h *localHandle) ID() string { return h.id }

// resolve maps a sandbox path into the sandbox directory, refusing escapes.
func (h *localHandle) resolve(p string) (string, error) {
	rel := p
	if path.IsAbs(p) {
		cleaned := path.Clean(p)
		switch {
		case cleaned == h.workDir:
			rel = "."
		case strings.HasPrefix(cleaned, h.workDir+"/"):
			rel = strings.TrimPrefix(cleaned, h.workDir+"/")
		default:
			return "", fmt.Errorf("path %s is outside the sandbox workdir %s", p, h.workDir)
		}
	}
	clean := path.Clean("/" + rel)
	return filepath.Join(h.dir, filepath.FromSlash(clean)), nil
}

func (h *localHandle) Run(ctx context.Context, command string, onStdout, onStderr func(string)) (CommandResult, error) {
	res, err := h.executor.Run(ctx, []string{"sh", "-c", command}, &exec.Opts{
		WorkDir: h.dir,
		Env:     h.env,
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

func (h *localHandle) WriteFile(_ context.Context, p, content string) error {
	target, err := h.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (h *localHandle) ReadFile(_ context.Context, p string) (string, error) {
	target, err := h.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file %s does not exist: %w", p, err)
		}
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return string(data), nil
}

func (h *localHandle) GetHost(_ context.Context, port int) (string, error) {
	return formatPreviewHost(h.previewHost, h.id, port), nil
}
