// Package exec provides command execution on the local host and inside long-running
// Docker containers. Sandboxes are built on top of these executors.
package exec

import (
	"context"
	"io"
	"time"
)

// ExecutorType represents the type of executor.
type ExecutorType string

const (
	ExecutorTypeLocal  ExecutorType = "local"
	ExecutorTypeDocker ExecutorType = "docker"
)

// Executor runs commands in some environment.
type Executor interface {
	// Run executes cmd and returns its result. A non-zero exit code is reported
	// in Result.ExitCode; err is reserved for failures to run at all.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	Name() ExecutorType

	// Available reports whether the executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
//
//nolint:govet // logical grouping preferred
type Opts struct {
	// Env contains environment variables in KEY=VALUE form.
	Env []string

	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string

	// User to run as (container executors only).
	User string

	// Stdout and Stderr receive output as it is produced, in addition to
	// the buffered copies returned in Result.
	Stdout io.Writer
	Stderr io.Writer
}

// ResourceLimits defines resource constraints for containers.
type ResourceLimits struct {
	CPUs   string // e.g. "2" or "1.5"
	Memory string // e.g. "2g", "512m"
	PIDs   int64
}

// Result contains the result of command execution.
type Result struct {
	Stdout       string
	Stderr       string
	ExecutorUsed string
	Duration     time.Duration
	ExitCode     int
}

// DefaultExecOpts returns default execution options.
func DefaultExecOpts() Opts {
	return Opts{
		Timeout: 5 * time.Minute,
	}
}

// outputWriters returns the writers a command should stream to: the buffer,
// teed into the caller's writer when one is set.
func outputWriters(buf io.Writer, stream io.Writer) io.Writer {
	if stream == nil {
		return buf
	}
	return io.MultiWriter(buf, stream)
}
