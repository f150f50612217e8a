// Package workflow is a small durable function engine.
//
// Events are sent by name; every function subscribed to that name gets a run. Runs execute
// on a worker pool and are retried with backoff when they fail. Inside a run, Step(ctx, name, fn)
// executes a step at most once per successful attempt: its JSON result is persisted, and
// re-executions of the function (retries, or resumption after a restart) replay the
// recorded result instead of calling fn again.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further execution will happen.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Event triggers functions.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"ts"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode event %s: %w", e.Name, err)
	}
	return nil
}

// Run is one execution of a function for one event.
type Run struct {
	ID         string          `json:"id"`
	FunctionID string          `json:"function_id"`
	Event      Event           `json:"event"`
	Status     RunStatus       `json:"status"`
	Attempt    int             `json:"attempt"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// HandlerFunc is a function body. Steps inside it use Run with the provided ctx.
type HandlerFunc func(ctx context.Context, ev Event) (any, error)

// Function is a durable function subscribed to one event name.
type Function struct {
	ID      string
	Trigger string
	// Retries is the number of re-executions after the first failure. Zero uses the engine default.
	Retries int
	Handler HandlerFunc
}

// Store persists events, runs and step results.
type Store interface {
	CreateEvent(ctx context.Context, ev *Event) error
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	// PendingRuns returns runs that are queued or were running when the process stopped.
	PendingRuns(ctx context.Context) ([]*Run, error)
	LoadSteps(ctx context.Context, runID string) (map[string]json.RawMessage, error)
	SaveStep(ctx context.Context, runID, key string, output json.RawMessage) error
}

var (
	ErrUnknownRun      = errors.New("unknown run")
	ErrUnknownFunction = errors.New("unknown function")
	ErrDuplicateID     = errors.New("function already registered")
)

// NonRetriableError stops function retries.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string { return e.Err.Error() }

func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable wraps err so the engine fails the run without retrying.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}
