package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// CreateCheckpoint records a checkpoint row tying a git ref, a state-store
// snapshot file, and an event cursor together.
func (s *Store) CreateCheckpoint(ctx context.Context, workspaceID, label, gitRef, storePath, eventCursor string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          id.NewCheckpointID(),
		WorkspaceID: workspaceID,
		Label:       label,
		GitRef:      gitRef,
		StorePath:   storePath,
		EventCursor: eventCursor,
		CreatedAt:   s.now(),
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, workspace_id, label, git_ref, store_path, event_cursor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.WorkspaceID, cp.Label, cp.GitRef, cp.StorePath, cp.EventCursor,
			formatTime(cp.CreatedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	return cp, nil
}

// GetCheckpoint loads a checkpoint by ID.
func (s *Store) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, checkpointSelect+` WHERE id = ?`, checkpointID)
	return scanCheckpoint(row)
}

// ListCheckpoints returns workspace checkpoints, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, workspaceID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		checkpointSelect+` WHERE workspace_id = ? ORDER BY created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

const checkpointSelect = `SELECT id, workspace_id, label, git_ref, store_path, event_cursor, created_at FROM checkpoints`

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var created string
	err := row.Scan(&cp.ID, &cp.WorkspaceID, &cp.Label, &cp.GitRef, &cp.StorePath,
		&cp.EventCursor, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if cp.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &cp, nil
}
