package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newLocalGateway(t *testing.T) *LocalGateway {
	t.Helper()
	templates := DefaultTemplates()
	// No dev server in tests.
	tmpl := templates.byName["sagarmatha-nextjs-test"]
	tmpl.StartCommand = ""
	templates.byName["sagarmatha-nextjs-test"] = tmpl

	g, err := NewLocalGateway(LocalOptions{Root: t.TempDir(), Templates: templates})
	if err != nil {
		t.Fatalf("NewLocalGateway: %v", err)
	}
	return g
}

func TestLocalGatewayLifecycle(t *testing.T) {
	ctx := context.Background()
	g := newLocalGateway(t)

	id, err := g.Create(ctx, "sagarmatha-nextjs-test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	h, err := g.Connect(ctx, id)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.ID() != id {
		t.Errorf("got id %q, want %q", h.ID(), id)
	}

	if err := h.WriteFile(ctx, "app/page.tsx", "export default 1"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := h.ReadFile(ctx, "/home/user/app/page.tsx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "export default 1" {
		t.Errorf("got %q", got)
	}

	host, err := h.GetHost(ctx, 3000)
	if err != nil || host != "localhost:3000" {
		t.Errorf("GetHost = %q, %v", host, err)
	}

	if err := g.Kill(ctx, id); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := g.Connect(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after kill", err)
	}
}

func TestLocalGatewayUnknownTemplate(t *testing.T) {
	g := newLocalGateway(t)
	if _, err := g.Create(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestLocalHandleRunStreamsOutput(t *testing.T) {
	ctx := context.Background()
	g := newLocalGateway(t)
	id, _ := g.Create(ctx, "base")
	h, _ := g.Connect(ctx, id)

	var mu sync.Mutex
	var streamed strings.Builder
	res, err := h.Run(ctx, "echo hello", func(s string) {
		mu.Lock()
		streamed.WriteString(s)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || strings.TrimSpace(streamed.String()) != "hello" {
		t.Errorf("stdout=%q streamed=%q", res.Stdout, streamed.String())
	}
}

func TestLocalHandleRunNonZeroExit(t *testing.T) {
	ctx := context.Background()
	g := newLocalGateway(t)
	id, _ := g.Create(ctx, "base")
	h, _ := g.Connect(ctx, id)

	res, err := h.Run(ctx, "echo out; echo err >&2; exit 2", nil, nil)
	var exitErr *CommandExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("got %v, want *CommandExitError", err)
	}
	if exitErr.Result.ExitCode != 2 || res.ExitCode != 2 {
		t.Errorf("exit code = %d", exitErr.Result.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestLocalHandlePathContainment(t *testing.T) {
	ctx := context.Background()
	g := newLocalGateway(t)
	id, _ := g.Create(ctx, "base")
	h, _ := g.Connect(ctx, id)

	if err := h.WriteFile(ctx, "../../escape.txt", "x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(g.opts.Root, id, "escape.txt")); err != nil {
		t.Errorf("relative escape should be clamped inside the sandbox: %v", err)
	}

	if err := h.WriteFile(ctx, "/etc/passwd", "x"); err == nil {
		t.Error("absolute path outside workdir should be rejected")
	}
	if _, err := h.ReadFile(ctx, "missing.txt"); err == nil {
		t.Error("reading a missing file should fail")
	}
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	yml := `templates:
  custom:
    image: example/custom:1
    env:
      FOO: bar
  sagarmatha-nextjs-test:
    image: registry.local/nextjs:15
    preview_port: 4000
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	custom, err := reg.Get("custom")
	if err != nil {
		t.Fatal(err)
	}
	if custom.WorkDir != "/home/user" || custom.PreviewPort != 3000 || custom.Name != "custom" {
		t.Errorf("defaults not applied: %+v", custom)
	}
	if env := custom.envList(); len(env) != 1 || env[0] != "FOO=bar" {
		t.Errorf("env = %v", env)
	}

	next, _ := reg.Get("sagarmatha-nextjs-test")
	if next.Image != "registry.local/nextjs:15" || next.PreviewPort != 4000 {
		t.Errorf("override not applied: %+v", next)
	}
	if len(reg.Names()) != 3 {
		t.Errorf("names = %v", reg.Names())
	}
}

func TestLoadTemplatesRequiresImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte("templates:\n  bad:\n    workdir: /x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplates(path); err == nil {
		t.Fatal("expected error for template without image")
	}
}

func TestFormatPreviewHost(t *testing.T) {
	got := formatPreviewHost("{port}-{id}.sandbox.example.com", "abc", 3000)
	if got != "3000-abc.sandbox.example.com" {
		t.Errorf("got %q", got)
	}
}
