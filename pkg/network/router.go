package network

import (
	"fmt"

	"sagarmatha/pkg/state"
)

// DefaultMaxIterations is the turn cap used when none is configured.
const DefaultMaxIterations = 15

// RouterState is the turn controller's state.
type RouterState int

const (
	// RouterRunning means another turn may be scheduled.
	RouterRunning RouterState = iota
	// RouterStopped is terminal.
	RouterStopped
)

func (s RouterState) String() string {
	switch s {
	case RouterRunning:
		return "RUNNING"
	case RouterStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("RouterState(%d)", int(s))
	}
}

// StopReason says why a router stopped.
type StopReason string

const (
	StopNone      StopReason = ""
	StopSummary   StopReason = "summary"
	StopIteration StopReason = "max_iterations"
)

// Router decides, before every turn, whether the network keeps going.
// A Router is used by one run and is not safe for concurrent use.
type Router struct {
	maxIterations int
	iterations    int
	state         RouterState
	reason        StopReason
}

// NewRouter returns a router in RUNNING with a zero counter.
func NewRouter(maxIterations int) *Router {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Router{maxIterations: maxIterations, state: RouterRunning}
}

// Next evaluates the router against st. RUNNING means exactly one turn has been
// scheduled and counted; STOPPED is returned forever once reached.
func (r *Router) Next(st *state.State) RouterState {
	if r.state == RouterStopped {
		return RouterStopped
	}

	switch {
	case st.HasSummary():
		r.stop(StopSummary)
	case r.iterations >= r.maxIterations:
		r.stop(StopIteration)
	default:
		r.iterations++
	}
	return r.state
}

func (r *Router) stop(reason StopReason) {
	r.state = RouterStopped
	r.reason = reason
}

// State returns the current state.
func (r *Router) State() RouterState { return r.state }

// Iterations returns the number of turns scheduled so far.
func (r *Router) Iterations() int { return r.iterations }

// MaxIterations returns the configured cap.
func (r *Router) MaxIterations() int { return r.maxIterations }

// Reason returns why the router stopped, or StopNone while running.
func (r *Router) Reason() StopReason { return r.reason }
