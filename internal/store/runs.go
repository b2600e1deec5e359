package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// StartRun records a new RUNNING run for a task.
func (s *Store) StartRun(ctx context.Context, taskID, engine string) (*Run, error) {
	run := &Run{
		ID:        id.NewRunID(),
		TaskID:    taskID,
		Engine:    engine,
		Status:    RunRunning,
		StartedAt: s.now(),
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, task_id, engine, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, run.TaskID, run.Engine, string(run.Status), formatTime(run.StartedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// RunUpdate carries the mutable fields written back during and after a run.
type RunUpdate struct {
	Status       RunStatus
	Iterations   int
	InputTokens  int
	OutputTokens int
	Summary      string
	LastError    string
}

// FinishRun closes a run with its terminal status and accounting. A run that
// has already finished cannot be finished again.
func (s *Store) FinishRun(ctx context.Context, runID string, update RunUpdate) (*Run, error) {
	if !update.Status.IsTerminal() {
		return nil, fmt.Errorf("finish run: %s is not a terminal status", update.Status)
	}
	var finished *Run
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, runSelect+` WHERE id = ?`, runID)
		run, err := scanRun(row)
		if err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			return &TransitionError{Entity: "run", ID: runID, From: string(run.Status), To: string(update.Status)}
		}
		run.Status = update.Status
		run.Iterations = update.Iterations
		run.InputTokens = update.InputTokens
		run.OutputTokens = update.OutputTokens
		run.TotalTokens = update.InputTokens + update.OutputTokens
		run.Summary = update.Summary
		run.LastError = update.LastError
		now := s.now()
		run.FinishedAt = &now

		_, err = tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, iterations = ?, input_tokens = ?, output_tokens = ?,
				total_tokens = ?, summary = ?, last_error = ?, finished_at = ?
			WHERE id = ?`,
			string(run.Status), run.Iterations, run.InputTokens, run.OutputTokens,
			run.TotalTokens, run.Summary, run.LastError, formatTime(now), runID)
		if err != nil {
			return err
		}
		finished = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// UpdateRunProgress persists iteration and token counters mid-run so a crash
// loses at most one iteration of accounting.
func (s *Store) UpdateRunProgress(ctx context.Context, runID string, iterations, inputTokens, outputTokens int) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET iterations = ?, input_tokens = ?, output_tokens = ?, total_tokens = ?
			WHERE id = ? AND status = ?`,
			iterations, inputTokens, outputTokens, inputTokens+outputTokens,
			runID, string(RunRunning))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, runID)
	return scanRun(row)
}

// LatestRun returns the most recently started run for a task.
func (s *Store) LatestRun(ctx context.Context, taskID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		runSelect+` WHERE task_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`, taskID)
	return scanRun(row)
}

// ListRuns returns all runs for a task, oldest first.
func (s *Store) ListRuns(ctx context.Context, taskID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		runSelect+` WHERE task_id = ? ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

const runSelect = `SELECT id, task_id, engine, status, iterations, input_tokens,
	output_tokens, total_tokens, started_at, finished_at, summary, last_error FROM runs`

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, started string
	var finished sql.NullString
	err := row.Scan(&run.ID, &run.TaskID, &run.Engine, &status, &run.Iterations,
		&run.InputTokens, &run.OutputTokens, &run.TotalTokens, &started, &finished,
		&run.Summary, &run.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.Status = RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = timePtr(finished); err != nil {
		return nil, err
	}
	return &run, nil
}
