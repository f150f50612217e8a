package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sagarmatha/pkg/logx"
)

type stepKey struct{}

// stepRunner memoizes step results for one run.
type stepRunner struct {
	runID  string
	store  Store
	mu     sync.Mutex
	memo   map[string]json.RawMessage
	counts map[string]int

	attempt     int
	maxAttempts int
}

func newStepRunner(runID string, store Store, memo map[string]json.RawMessage) *stepRunner {
	if memo == nil {
		memo = make(map[string]json.RawMessage)
	}
	return &stepRunner{
		runID:  runID,
		store:  store,
		memo:   memo,
		counts: make(map[string]int),
	}
}

// nextKey returns the key for the next occurrence of name within this attempt.
// Steps with the same name are told apart by call order, which is deterministic
// as long as earlier steps replay the same results.
func (s *stepRunner) nextKey(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counts[name]
	s.counts[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, n)
}

func (s *stepRunner) lookup(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.memo[key]
	return raw, ok
}

func (s *stepRunner) record(ctx context.Context, key string, raw json.RawMessage) error {
	if err := s.store.SaveStep(ctx, s.runID, key, raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.memo[key] = raw
	s.mu.Unlock()
	return nil
}

func withStepRunner(ctx context.Context, s *stepRunner) context.Context {
	return context.WithValue(ctx, stepKey{}, s)
}

func stepRunnerFrom(ctx context.Context) *stepRunner {
	s, _ := ctx.Value(stepKey{}).(*stepRunner)
	return s
}

// InRun reports whether ctx belongs to a durable run.
func InRun(ctx context.Context) bool {
	return stepRunnerFrom(ctx) != nil
}

// RunID returns the id of the durable run ctx belongs to, or "".
func RunID(ctx context.Context) string {
	if s := stepRunnerFrom(ctx); s != nil {
		return s.runID
	}
	return ""
}

// LastAttempt reports whether the current attempt is the run's final one, so a
// returned error will fail the run. Outside a durable run it is always true.
func LastAttempt(ctx context.Context) bool {
	s := stepRunnerFrom(ctx)
	if s == nil || s.maxAttempts <= 0 {
		return true
	}
	return s.attempt >= s.maxAttempts
}

// Step executes fn as a named step. Outside a durable run it simply calls fn.
// Inside one, a result recorded by an earlier attempt is returned without calling fn;
// otherwise fn's result is recorded before it is returned. Errors are not recorded.
func Step[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	s := stepRunnerFrom(ctx)
	if s == nil {
		return fn(ctx)
	}

	key := s.nextKey(name)
	if raw, ok := s.lookup(key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("failed to replay step %s: %w", key, err)
		}
		logx.Debug(ctx, "workflow", "step %s replayed", key)
		return v, nil
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("failed to encode result of step %s: %w", key, err)
	}
	if err := s.record(ctx, key, raw); err != nil {
		return v, fmt.Errorf("failed to record step %s: %w", key, err)
	}
	logx.Debug(ctx, "workflow", "step %s completed", key)
	return v, nil
}
