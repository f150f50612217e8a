// Package sandbox provides the isolated execution environments task runs build code in.
//
// A Gateway creates sandboxes from named templates and reconnects to them by id. A Handle
// runs shell commands with streamed output, reads and writes files, and resolves the public
// host for a port. Two gateways exist: DockerGateway (one long-running container per
// sandbox) and LocalGateway (one host directory per sandbox, for development).
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNotFound is returned when connecting to an unknown sandbox.
var ErrNotFound = errors.New("sandbox not found")

// Gateway creates and locates sandboxes.
type Gateway interface {
	// Create starts a sandbox from template and returns its id.
	Create(ctx context.Context, template string) (string, error)

	// Connect returns a handle to an existing sandbox.
	Connect(ctx context.Context, id string) (Handle, error)

	// Kill destroys a sandbox.
	Kill(ctx context.Context, id string) error
}

// Handle operates on one sandbox.
type Handle interface {
	ID() string

	// Run executes a shell command. onStdout and onStderr, when non-nil, receive output
	// chunks as they arrive. A non-zero exit yields a *CommandExitError carrying the result.
	Run(ctx context.Context, command string, onStdout, onStderr func(string)) (CommandResult, error)

	WriteFile(ctx context.Context, path, content string) error
	ReadFile(ctx context.Context, path string) (string, error)

	// GetHost returns the public host name serving port.
	GetHost(ctx context.Context, port int) (string, error)
}

// CommandResult is the outcome of Handle.Run.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandExitError reports a command that ran but exited non-zero.
type CommandExitError struct {
	Result CommandResult
}

func (e *CommandExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Result.ExitCode)
}

// callbackWriter forwards writes to a chunk callback.
type callbackWriter func(string)

func (w callbackWriter) Write(p []byte) (int, error) {
	w(string(p))
	return len(p), nil
}

func streamTo(fn func(string)) io.Writer {
	if fn == nil {
		return nil
	}
	return callbackWriter(fn)
}

// formatPreviewHost expands {id} and {port} in pattern.
func formatPreviewHost(pattern, id string, port int) string {
	r := strings.NewReplacer("{id}", id, "{port}", strconv.Itoa(port))
	return r.Replace(pattern)
}
