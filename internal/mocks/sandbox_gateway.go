package mocks

import (
	"context"
	"fmt"
	"sync"

	"sagarmatha/pkg/sandbox"
)

// CommandFunc decides the outcome of a command run in a MockSandboxGateway.
type CommandFunc func(command string, onStdout, onStderr func(string)) (sandbox.CommandResult, error)

// MockSandboxGateway implements sandbox.Gateway in memory. Every sandbox is a
// path → content map.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockSandboxGateway struct {
	// CommandFunc handles Run. Defaults to echoing the command on stdout.
	CommandFunc CommandFunc

	// FailWrite, when set, is consulted before every write; a non-nil error fails it.
	FailWrite func(path string) error

	// FailRead, when set, is consulted before every read.
	FailRead func(path string) error

	// CreateCalls records the template of every Create call.
	CreateCalls []string

	// Commands records every command run.
	Commands []string

	// Host is returned by GetHost; "{id}" is not expanded.
	Host string

	sandboxes map[string]map[string]string
	killed    map[string]bool
	next      int
	mu        sync.Mutex
}

// NewMockSandboxGateway creates a gateway where every operation succeeds.
func NewMockSandboxGateway() *MockSandboxGateway {
	return &MockSandboxGateway{
		CommandFunc: func(command string, onStdout, _ func(string)) (sandbox.CommandResult, error) {
			if onStdout != nil {
				onStdout(command)
			}
			return sandbox.CommandResult{Stdout: command}, nil
		},
		Host:      "mock-sandbox.local",
		sandboxes: make(map[string]map[string]string),
		killed:    make(map[string]bool),
	}
}

// Create implements sandbox.Gateway.
func (g *MockSandboxGateway) Create(_ context.Context, template string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := fmt.Sprintf("mock-sbx-%d", g.next)
	g.sandboxes[id] = make(map[string]string)
	g.CreateCalls = append(g.CreateCalls, template)
	return id, nil
}

// Connect implements sandbox.Gateway.
func (g *MockSandboxGateway) Connect(_ context.Context, id string) (sandbox.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sandboxes[id]; !ok || g.killed[id] {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrNotFound, id)
	}
	return &mockHandle{gw: g, id: id}, nil
}

// Kill implements sandbox.Gateway.
func (g *MockSandboxGateway) Kill(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sandboxes[id]; !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, id)
	}
	g.killed[id] = true
	return nil
}

// Seed places a file in a sandbox without going through a handle.
func (g *MockSandboxGateway) Seed(id, path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sandboxes[id] == nil {
		g.sandboxes[id] = make(map[string]string)
	}
	g.sandboxes[id][path] = content
}

// Files returns a copy of a sandbox's files.
func (g *MockSandboxGateway) Files(id string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.sandboxes[id]))
	for k, v := range g.sandboxes[id] {
		out[k] = v
	}
	return out
}

// CommandCount returns the number of commands run across all sandboxes.
func (g *MockSandboxGateway) CommandCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Commands)
}

type mockHandle struct {
	gw *MockSandboxGateway
	id string
}

func (h *mockHandle) ID() string { return h.id }

func (h *mockHandle) Run(_ context.Context, command string, onStdout, onStderr func(string)) (sandbox.CommandResult, error) {
	h.gw.mu.Lock()
	h.gw.Commands = append(h.gw.Commands, command)
	fn := h.gw.CommandFunc
	h.gw.mu.Unlock()
	return fn(command, onStdout, onStderr)
}

func (h *mockHandle) WriteFile(_ context.Context, path, content string) error {
	if h.gw.FailWrite != nil {
		if err := h.gw.FailWrite(path); err != nil {
			return err
		}
	}
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	h.gw.sandboxes[h.id][path] = content
	return nil
}

func (h *mockHandle) ReadFile(_ context.Context, path string) (string, error) {
	if h.gw.FailRead != nil {
		if err := h.gw.FailRead(path); err != nil {
			return "", err
		}
	}
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	content, ok := h.gw.sandboxes[h.id][path]
	if !ok {
		return "", fmt.Errorf("open %s: no such file or directory", path)
	}
	return content, nil
}

func (h *mockHandle) GetHost(_ context.Context, port int) (string, error) {
	return fmt.Sprintf("%d-%s", port, h.gw.Host), nil
}
