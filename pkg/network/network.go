// Package network runs an agent turn by turn until it declares completion or a turn cap
// is reached.
//
// One run owns one state.State. Before every turn the Router decides whether to continue;
// after every turn the completion detector looks for CompletionMarker in the agent's last
// message and freezes it as the run summary. Turns are strictly sequential.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/state"
)

// ErrNoAgent is returned when a network has no agent to run.
var ErrNoAgent = errors.New("network has no agent")

// Observer is told about turns and tool executions.
type Observer interface {
	TurnFinished(network string, index, toolCalls int, duration time.Duration)
	ToolExecuted(tool string, isError bool, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) TurnFinished(string, int, int, time.Duration) {}
func (nopObserver) ToolExecuted(string, bool, time.Duration) {}

// Network couples an agent with the turn controller.
type Network struct {
	name          string
	agent         *Agent
	maxIterations int
	observer      Observer
	logger        *logx.Logger
}

// Options configures a Network.
type Options struct {
	MaxIterations int
	Observer      Observer
}

// New creates a network. A zero MaxIterations uses DefaultMaxIterations.
func New(name string, agent *Agent, opts Options) *Network {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Network{
		name:          name,
		agent:         agent,
		maxIterations: opts.MaxIterations,
		observer:      opts.Observer,
		logger:        logx.NewLogger("network"),
	}
}

// Name returns the network name.
func (n *Network) Name() string { return n.name }

// RunResult is the terminal outcome of a run.
type RunResult struct {
	State      RouterState             `json:"-"`
	StopReason StopReason              `json:"stop_reason"`
	Iterations int                     `json:"iterations"`
	Summary    string                  `json:"summary,omitempty"`
	Files      map[string]string       `json:"files"`
	Turns      []Turn                  `json:"turns"`
	History    []llm.CompletionMessage `json:"-"`
}

// Completed reports whether the agent declared completion.
func (r *RunResult) Completed() bool {
	return r.StopReason == StopSummary
}

// Run drives the agent with input until the router stops. st must not be shared with
// another run. An error means a turn could not be completed; the state keeps whatever
// the finished turns produced.
func (n *Network) Run(ctx context.Context, input string, st *state.State) (*RunResult, error) {
	if n.agent == nil {
		return nil, ErrNoAgent
	}

	router := NewRouter(n.maxIterations)
	history := []llm.CompletionMessage{llm.NewUserMessage(input)}
	var turns []Turn

	n.logger.Info("🚀 Network %s starting with agent %s (max %d turns)", n.name, n.agent.Name(), n.maxIterations)

	for router.Next(st) == RouterRunning {
		index := router.Iterations()
		logx.Debug(ctx, "network", "turn %d/%d scheduled for %s", index, n.maxIterations, n.agent.Name())

		turn, err := n.agent.Turn(ctx, index, history, st)
		if err != nil {
			return nil, fmt.Errorf("turn %d of %s failed: %w", index, n.name, err)
		}
		history = append(history, turn.Messages...)
		turns = append(turns, *turn)
		n.observer.TurnFinished(n.name, index, turn.ToolCalls, turn.Duration)

		if DetectCompletion(turn.Messages, st) {
			n.logger.Info("✅ Completion marker found in turn %d", index)
		}
	}

	logx.DebugState(ctx, "network", "entered", router.State().String(), string(router.Reason()))

	snap := st.Snapshot()
	result := &RunResult{
		State:      router.State(),
		StopReason: router.Reason(),
		Iterations: router.Iterations(),
		Summary:    snap.Summary,
		Files:      snap.Files,
		Turns:      turns,
		History:    history,
	}

	if result.StopReason == StopIteration {
		n.logger.Warn("⚠️  Network %s stopped after %d turns without a summary", n.name, result.Iterations)
	} else {
		n.logger.Info("🛑 Network %s stopped after %d turn(s): %s", n.name, result.Iterations, result.StopReason)
	}
	return result, nil
}
