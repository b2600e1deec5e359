package store

import (
	"context"
	"database/sql"
	"errors"
)

// PutDecision stores or replaces a cached supervisor answer for a decision
// kind. Later answers to the same kind overwrite earlier ones.
func (s *Store) PutDecision(ctx context.Context, workspaceID, kind, question, answer string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (workspace_id, kind, question, answer, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (workspace_id, kind) DO UPDATE SET
				question = excluded.question,
				answer = excluded.answer,
				created_at = excluded.created_at`,
			workspaceID, kind, question, answer, formatTime(s.now()))
		return err
	})
}

// GetDecision returns the cached answer for a decision kind.
func (s *Store) GetDecision(ctx context.Context, workspaceID, kind string) (*Decision, error) {
	var d Decision
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, kind, question, answer, created_at
		FROM decisions WHERE workspace_id = ? AND kind = ?`,
		workspaceID, kind).Scan(&d.WorkspaceID, &d.Kind, &d.Question, &d.Answer, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &d, nil
}
