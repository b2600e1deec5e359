package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// batchTransitions encodes the legal batch lifecycle edges. RUNNING can be
// re-entered from PARTIAL and FAILED via resume.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:   {BatchRunning, BatchCancelled},
	BatchRunning:   {BatchCompleted, BatchPartial, BatchFailed, BatchCancelled},
	BatchPartial:   {BatchRunning},
	BatchFailed:    {BatchRunning},
	BatchCompleted: {},
	BatchCancelled: {},
}

// CanTransitionBatch reports whether from → to is a legal batch transition.
func CanTransitionBatch(from, to BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BatchDraft is the caller-supplied part of a new batch.
type BatchDraft struct {
	TaskIDs     []string
	Strategy    BatchStrategy
	MaxParallel int
	OnFailure   OnFailure
	RetryBudget int
}

// CreateBatch records a PENDING batch. Task IDs must exist in the workspace.
func (s *Store) CreateBatch(ctx context.Context, workspaceID string, draft BatchDraft) (*Batch, error) {
	if len(draft.TaskIDs) == 0 {
		return nil, errors.New("batch requires at least one task")
	}
	if draft.MaxParallel <= 0 {
		draft.MaxParallel = 4
	}
	if draft.Strategy == "" {
		draft.Strategy = StrategyAuto
	}
	if draft.OnFailure == "" {
		draft.OnFailure = OnFailureContinue
	}
	if err := validatePositive("retry budget", draft.RetryBudget); err != nil {
		return nil, err
	}

	b := &Batch{
		ID:          id.NewBatchID(),
		WorkspaceID: workspaceID,
		TaskIDs:     draft.TaskIDs,
		Strategy:    draft.Strategy,
		MaxParallel: draft.MaxParallel,
		OnFailure:   draft.OnFailure,
		RetryBudget: draft.RetryBudget,
		Status:      BatchPending,
		Results:     map[string]RunStatus{},
		CreatedAt:   s.now(),
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		for _, taskID := range b.TaskIDs {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM tasks WHERE id = ? AND workspace_id = ?`,
				taskID, workspaceID).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: batch task %s does not exist", ErrIntegrityViolation, taskID)
			}
		}
		taskIDs, err := json.Marshal(b.TaskIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batches (id, workspace_id, task_ids, strategy, max_parallel,
				on_failure, retry_budget, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.WorkspaceID, string(taskIDs), string(b.Strategy), b.MaxParallel,
			string(b.OnFailure), b.RetryBudget, string(b.Status), formatTime(b.CreatedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return b, nil
}

// TransitionBatch moves a batch between lifecycle states, stamping
// started_at on first entry into RUNNING and finished_at on terminal states.
func (s *Store) TransitionBatch(ctx context.Context, batchID string, to BatchStatus) (*Batch, error) {
	var updated *Batch
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, batchSelect+` WHERE id = ?`, batchID)
		b, err := scanBatch(row)
		if err != nil {
			return err
		}
		if !CanTransitionBatch(b.Status, to) {
			return &TransitionError{Entity: "batch", ID: batchID, From: string(b.Status), To: string(to)}
		}
		b.Status = to
		now := s.now()
		if to == BatchRunning && b.StartedAt == nil {
			b.StartedAt = &now
		}
		switch to {
		case BatchCompleted, BatchPartial, BatchFailed, BatchCancelled:
			b.FinishedAt = &now
		case BatchRunning:
			b.FinishedAt = nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE batches SET status = ?, started_at = ?, finished_at = ? WHERE id = ?`,
			string(b.Status), formatTimePtr(b.StartedAt), formatTimePtr(b.FinishedAt), batchID)
		if err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SaveBatchDependencyMap persists the resolved dependency map before
// execution starts so resume never re-infers it.
func (s *Store) SaveBatchDependencyMap(ctx context.Context, batchID string, deps map[string][]string) error {
	data, err := json.Marshal(deps)
	if err != nil {
		return err
	}
	return s.batchUpdate(ctx, batchID, `UPDATE batches SET dependency_map = ? WHERE id = ?`, string(data), batchID)
}

// RecordBatchResult stores the terminal run status of one batch task.
func (s *Store) RecordBatchResult(ctx context.Context, batchID, taskID string, status RunStatus) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT results FROM batches WHERE id = ?`, batchID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		results := map[string]RunStatus{}
		if err := json.Unmarshal([]byte(raw), &results); err != nil {
			return err
		}
		results[taskID] = status
		data, err := json.Marshal(results)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE batches SET results = ? WHERE id = ?`, string(data), batchID)
		return err
	})
}

// AddBatchUsage accumulates token usage onto the batch totals.
func (s *Store) AddBatchUsage(ctx context.Context, batchID string, inputTokens, outputTokens int) error {
	return s.batchUpdate(ctx, batchID, `
		UPDATE batches SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?
		WHERE id = ?`, inputTokens, outputTokens, batchID)
}

// GetBatch loads a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, batchSelect+` WHERE id = ?`, batchID)
	return scanBatch(row)
}

// ListBatches returns workspace batches, newest first.
func (s *Store) ListBatches(ctx context.Context, workspaceID string) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		batchSelect+` WHERE workspace_id = ? ORDER BY created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) batchUpdate(ctx context.Context, batchID, query string, args ...any) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
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

const batchSelect = `SELECT id, workspace_id, task_ids, strategy, max_parallel, on_failure,
	retry_budget, status, dependency_map, results, input_tokens, output_tokens,
	started_at, finished_at, created_at FROM batches`

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var taskIDs, strategy, onFailure, status, depMap, results, created string
	var started, finished sql.NullString
	err := row.Scan(&b.ID, &b.WorkspaceID, &taskIDs, &strategy, &b.MaxParallel,
		&onFailure, &b.RetryBudget, &status, &depMap, &results,
		&b.InputTokens, &b.OutputTokens, &started, &finished, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Strategy = BatchStrategy(strategy)
	b.OnFailure = OnFailure(onFailure)
	b.Status = BatchStatus(status)
	if err := json.Unmarshal([]byte(taskIDs), &b.TaskIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(depMap), &b.DependencyMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(results), &b.Results); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.StartedAt, err = timePtr(started); err != nil {
		return nil, err
	}
	if b.FinishedAt, err = timePtr(finished); err != nil {
		return nil, err
	}
	return &b, nil
}
