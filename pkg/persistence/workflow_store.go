package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sagarmatha/pkg/workflow"
)

// WorkflowStore persists workflow events, runs and step results.
type WorkflowStore struct {
	db *sql.DB
}

var _ workflow.Store = (*WorkflowStore)(nil)

// NewWorkflowStore creates a store on db.
func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// CreateEvent implements workflow.Store.
func (s *WorkflowStore) CreateEvent(ctx context.Context, ev *workflow.Event) error {
	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (id, name, data, ts) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Name, string(data), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

// CreateRun implements workflow.Store. The run's event must already exist.
func (s *WorkflowStore) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, function_id, event_id, status, attempt, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FunctionID, run.Event.ID, string(run.Status), run.Attempt,
		nullableJSON(run.Output), run.Error, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun implements workflow.Store.
func (s *WorkflowStore) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownRun, id)
	}
	return run, err
}

// UpdateRun implements workflow.Store.
func (s *WorkflowStore) UpdateRun(ctx context.Context, run *workflow.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = ?, attempt = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(run.Status), run.Attempt, nullableJSON(run.Output), run.Error, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrUnknownRun, run.ID)
	}
	return nil
}

// PendingRuns implements workflow.Store.
func (s *WorkflowStore) PendingRuns(ctx context.Context) ([]*workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		runSelect+` WHERE r.status IN ('queued', 'running') ORDER BY r.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending runs: %w", err)
	}
	return runs, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *WorkflowStore) ListRuns(ctx context.Context, limit int) ([]*workflow.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY r.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// LoadSteps implements workflow.Store.
func (s *WorkflowStore) LoadSteps(ctx context.Context, runID string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_key, output FROM workflow_steps WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	steps := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, output string
		if err := rows.Scan(&key, &output); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps[key] = json.RawMessage(output)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

// SaveStep implements workflow.Store. Saving the same key twice keeps the first result.
func (s *WorkflowStore) SaveStep(ctx context.Context, runID, key string, output json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workflow_steps (run_id, step_key, output) VALUES (?, ?, ?)`,
		runID, key, string(output),
	)
	if err != nil {
		return fmt.Errorf("failed to save step %s of %s: %w", key, runID, err)
	}
	return nil
}

const runSelect = `
	SELECT r.id, r.function_id, r.status, r.attempt, r.output, r.error, r.created_at, r.updated_at,
	       e.id, e.name, e.data, e.ts
	FROM workflow_runs r
	JOIN workflow_events e ON e.id = r.event_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		run    workflow.Run
		status string
		output sql.NullString
		data   string
	)
	err := row.Scan(
		&run.ID, &run.FunctionID, &status, &run.Attempt, &output, &run.Error, &run.CreatedAt, &run.UpdatedAt,
		&run.Event.ID, &run.Event.Name, &data, &run.Event.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers map ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = workflow.RunStatus(status)
	run.Event.Data = json.RawMessage(data)
	if output.Valid {
		run.Output = json.RawMessage(output.String)
	}
	return &run, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
