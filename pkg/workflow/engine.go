package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"sagarmatha/pkg/logx"
)

// RunObserver is notified when a run reaches a terminal status.
type RunObserver interface {
	RunFinished(functionID string, status RunStatus, attempts int, duration time.Duration)
}

// Options configures an Engine.
type Options struct {
	Workers   int
	QueueSize int

	// MaxAttempts is the default number of attempts per run, including the first.
	MaxAttempts int

	// Delay returns the backoff before attempt (attempt >= 2).
	Delay func(attempt int) time.Duration

	// PollInterval is how often pending runs are re-scanned.
	PollInterval time.Duration

	Observer RunObserver
}

// Engine dispatches events to functions and executes runs.
type Engine struct {
	store     Store
	opts      Options
	logger    *logx.Logger
	mu        sync.Mutex
	functions map[string]*Function   // by ID
	triggers  map[string][]*Function // by event name
	inflight  map[string]bool
	queue     chan string
	started   bool
}

// NewEngine returns an engine backed by store.
func NewEngine(store Store, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Delay == nil {
		opts.Delay = func(int) time.Duration { return time.Second }
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Engine{
		store:     store,
		opts:      opts,
		logger:    logx.NewLogger("workflow"),
		functions: make(map[string]*Function),
		triggers:  make(map[string][]*Function),
		inflight:  make(map[string]bool),
		queue:     make(chan string, opts.QueueSize),
	}
}

// Register subscribes fn to its trigger. Must be called before Run.
func (e *Engine) Register(fn *Function) error {
	if fn.ID == "" || fn.Trigger == "" || fn.Handler == nil {
		return fmt.Errorf("function requires id, trigger and handler")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("cannot register %s after the engine started", fn.ID)
	}
	if _, exists := e.functions[fn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, fn.ID)
	}
	e.functions[fn.ID] = fn
	e.triggers[fn.Trigger] = append(e.triggers[fn.Trigger], fn)
	e.logger.Info("🔌 Registered function %s on %s", fn.ID, fn.Trigger)
	return nil
}

// Send records an event and creates one queued run per subscribed function.
// It returns the created run ids.
func (e *Engine) Send(ctx context.Context, name string, data any) ([]string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", name, err)
	}

	ev := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.CreateEvent(ctx, &ev); err != nil {
		return nil, fmt.Errorf("failed to store event %s: %w", name, err)
	}

	e.mu.Lock()
	subscribers := append([]*Function(nil), e.triggers[name]...)
	e.mu.Unlock()

	if len(subscribers) == 0 {
		e.logger.Warn("Event %s (%s) has no subscribed functions", name, ev.ID)
	}

	runIDs := make([]string, 0, len(subscribers))
	for _, fn := range subscribers {
		now := time.Now().UTC()
		run := &Run{
			ID:         uuid.NewString(),
			FunctionID: fn.ID,
			Event:      ev,
			Status:     RunQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.store.CreateRun(ctx, run); err != nil {
			return runIDs, fmt.Errorf("failed to create run for %s: %w", fn.ID, err)
		}
		runIDs = append(runIDs, run.ID)
		e.enqueue(run.ID)
	}

	e.logger.Info("📨 Event %s (%s) dispatched to %d run(s)", name, ev.ID, len(runIDs))
	return runIDs, nil
}

// enqueue hands a run to the workers unless it is already queued or executing.
// A full queue leaves the run for the poller.
func (e *Engine) enqueue(runID string) {
	e.mu.Lock()
	if e.inflight[runID] {
		e.mu.Unlock()
		return
	}
	e.inflight[runID] = true
	e.mu.Unlock()

	select {
	case e.queue <- runID:
	default:
		e.mu.Lock()
		delete(e.inflight, runID)
		e.mu.Unlock()
		e.logger.Warn("Run queue full, %s will be picked up by the poller", runID)
	}
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	delete(e.inflight, runID)
	e.mu.Unlock()
}

// Run starts the workers, resumes pending runs and blocks until ctx is cancelled
// and every worker has finished its current run.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.logger.Info("🚀 Workflow engine starting with %d workers", e.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}

	e.resumePending(ctx)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Info("🛑 Workflow engine stopped")
			return nil
		case <-ticker.C:
			e.resumePending(ctx)
		}
	}
}

func (e *Engine) resumePending(ctx context.Context) {
	runs, err := e.store.PendingRuns(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Failed to load pending runs: %v", err)
		}
		return
	}
	for _, run := range runs {
		e.enqueue(run.ID)
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case runID := <-e.queue:
			e.execute(ctx, runID)
			e.release(runID)
		}
	}
}

// execute drives one run through its attempts.
func (e *Engine) execute(ctx context.Context, runID string) {
	start := time.Now()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.logger.Error("Failed to load run %s: %v", runID, err)
		return
	}
	if run.Status.Terminal() {
		return
	}

	e.mu.Lock()
	fn, ok := e.functions[run.FunctionID]
	e.mu.Unlock()
	if !ok {
		e.finish(ctx, run, nil, fmt.Errorf("%w: %s", ErrUnknownFunction, run.FunctionID), start)
		return
	}

	maxAttempts := e.opts.MaxAttempts
	if fn.Retries > 0 {
		maxAttempts = fn.Retries + 1
	}

	for {
		run.Attempt++
		run.Status = RunRunning
		run.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateRun(ctx, run); err != nil {
			e.logger.Error("Failed to mark run %s running: %v", run.ID, err)
			return
		}

		output, err := e.attempt(ctx, fn, run, maxAttempts)
		if err == nil {
			e.finish(ctx, run, output, nil, start)
			return
		}

		if ctx.Err() != nil {
			// Shutdown: leave the run as running so it is resumed on the next start.
			e.logger.Warn("Run %s interrupted by shutdown on attempt %d", run.ID, run.Attempt)
			return
		}

		var nonRetriable *NonRetriableError
		if errors.As(err, &nonRetriable) || run.Attempt >= maxAttempts {
			e.finish(ctx, run, nil, err, start)
			return
		}

		delay := e.opts.Delay(run.Attempt + 1)
		e.logger.Warn("🔁 Run %s (%s) attempt %d/%d failed: %v; retrying in %v",
			run.ID, fn.ID, run.Attempt, maxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// attempt calls the handler once with memoized steps loaded, converting panics to errors.
func (e *Engine) attempt(ctx context.Context, fn *Function, run *Run, maxAttempts int) (output any, err error) {
	memo, err := e.store.LoadSteps(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}

	steps := newStepRunner(run.ID, e.store, memo)
	steps.attempt = run.Attempt
	steps.maxAttempts = maxAttempts
	runCtx := withStepRunner(logx.WithRunID(ctx, run.ID), steps)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Run %s panicked: %v\n%s", run.ID, r, debug.Stack())
			err = fmt.Errorf("function %s panicked: %v", fn.ID, r)
		}
	}()

	return fn.Handler(runCtx, run.Event)
}

func (e *Engine) finish(ctx context.Context, run *Run, output any, runErr error, start time.Time) {
	run.UpdatedAt = time.Now().UTC()
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		e.logger.Error("❌ Run %s (%s) failed after %d attempt(s): %v", run.ID, run.FunctionID, run.Attempt, runErr)
	} else {
		run.Status = RunCompleted
		run.Error = ""
		if output != nil {
			raw, err := json.Marshal(output)
			if err != nil {
				run.Status = RunFailed
				run.Error = fmt.Sprintf("failed to encode output: %v", err)
			} else {
				run.Output = raw
			}
		}
		if run.Status == RunCompleted {
			e.logger.Info("✅ Run %s (%s) completed in %v", run.ID, run.FunctionID, time.Since(start).Round(time.Millisecond))
		}
	}

	if err := e.store.UpdateRun(ctx, run); err != nil {
		e.logger.Error("Failed to record result of run %s: %v", run.ID, err)
	}
	if e.opts.Observer != nil {
		e.opts.Observer.RunFinished(run.FunctionID, run.Status, run.Attempt, time.Since(start))
	}
}

// GetRun returns the stored run.
func (e *Engine) GetRun(ctx context.Context, id string) (*Run, error) {
	return e.store.GetRun(ctx, id)
}

// WaitForRun polls until the run reaches a terminal status or ctx ends.
func (e *Engine) WaitForRun(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := e.store.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
