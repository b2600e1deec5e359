package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codeframe/internal/shared/utils/id"
)

// ExpiredBlockerAnswer is the sentinel answer recorded when a blocker passes
// its expiry without a human response.
const ExpiredBlockerAnswer = "expired — proceed with best judgment"

// CreateBlocker opens a new blocker for a task.
func (s *Store) CreateBlocker(ctx context.Context, taskID string, mode BlockerMode, category BlockerCategory, question, contextText string, expiry time.Duration) (*Blocker, error) {
	if question == "" {
		return nil, errors.New("blocker question is required")
	}
	now := s.now()
	b := &Blocker{
		ID:        id.NewBlockerID(),
		TaskID:    taskID,
		Mode:      mode,
		Question:  question,
		Context:   contextText,
		Category:  category,
		Status:    BlockerOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blockers (id, task_id, mode, question, context, category, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.TaskID, string(b.Mode), b.Question, b.Context, string(b.Category),
			string(b.Status), formatTime(b.CreatedAt), formatTime(b.ExpiresAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create blocker: %w", err)
	}
	return b, nil
}

// AnswerBlocker records a human answer on an OPEN blocker.
func (s *Store) AnswerBlocker(ctx context.Context, blockerID, answer string) (*Blocker, error) {
	return s.updateBlockerStatus(ctx, blockerID, BlockerOpen, BlockerAnswered, answer)
}

// ResolveBlocker marks an ANSWERED blocker consumed by the agent.
func (s *Store) ResolveBlocker(ctx context.Context, blockerID string) (*Blocker, error) {
	return s.updateBlockerStatus(ctx, blockerID, BlockerAnswered, BlockerResolved, "")
}

// ExpireStaleBlockers marks every OPEN blocker past its expiry as EXPIRED
// with the sentinel answer, returning the ones it changed.
func (s *Store) ExpireStaleBlockers(ctx context.Context) ([]*Blocker, error) {
	now := s.now()
	var expired []*Blocker
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			blockerSelect+` WHERE status = ? AND expires_at <= ?`,
			string(BlockerOpen), formatTime(now))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			b, err := scanBlocker(rows)
			if err != nil {
				return err
			}
			expired = append(expired, b)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, b := range expired {
			b.Status = BlockerExpired
			b.Answer = ExpiredBlockerAnswer
			b.AnsweredAt = &now
			if _, err := tx.ExecContext(ctx, `
				UPDATE blockers SET status = ?, answer = ?, answered_at = ? WHERE id = ?`,
				string(b.Status), b.Answer, formatTime(now), b.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// GetBlocker loads a blocker by ID.
func (s *Store) GetBlocker(ctx context.Context, blockerID string) (*Blocker, error) {
	row := s.db.QueryRowContext(ctx, blockerSelect+` WHERE id = ?`, blockerID)
	return scanBlocker(row)
}

// ListOpenBlockers returns OPEN blockers, oldest first. taskID narrows to one
// task when non-empty.
func (s *Store) ListOpenBlockers(ctx context.Context, taskID string) ([]*Blocker, error) {
	query := blockerSelect + ` WHERE status = ?`
	args := []any{string(BlockerOpen)}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Blocker
	for rows.Next() {
		b, err := scanBlocker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListAnsweredBlockers returns ANSWERED and EXPIRED blockers for a task, the
// ones the agent can consume on resume.
func (s *Store) ListAnsweredBlockers(ctx context.Context, taskID string) ([]*Blocker, error) {
	rows, err := s.db.QueryContext(ctx,
		blockerSelect+` WHERE task_id = ? AND status IN (?, ?) ORDER BY created_at, id`,
		taskID, string(BlockerAnswered), string(BlockerExpired))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Blocker
	for rows.Next() {
		b, err := scanBlocker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) updateBlockerStatus(ctx context.Context, blockerID string, from, to BlockerStatus, answer string) (*Blocker, error) {
	var updated *Blocker
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, blockerSelect+` WHERE id = ?`, blockerID)
		b, err := scanBlocker(row)
		if err != nil {
			return err
		}
		if b.Status != from {
			return &TransitionError{Entity: "blocker", ID: blockerID, From: string(b.Status), To: string(to)}
		}
		b.Status = to
		if answer != "" {
			b.Answer = answer
		}
		var answeredAt any
		if to == BlockerAnswered {
			now := s.now()
			b.AnsweredAt = &now
		}
		answeredAt = formatTimePtr(b.AnsweredAt)

		_, err = tx.ExecContext(ctx, `
			UPDATE blockers SET status = ?, answer = ?, answered_at = ? WHERE id = ?`,
			string(b.Status), b.Answer, answeredAt, blockerID)
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

const blockerSelect = `SELECT id, task_id, mode, question, context, category, status,
	answer, created_at, answered_at, expires_at FROM blockers`

func scanBlocker(row rowScanner) (*Blocker, error) {
	var b Blocker
	var mode, category, status, created, expires string
	var answered sql.NullString
	err := row.Scan(&b.ID, &b.TaskID, &mode, &b.Question, &b.Context, &category,
		&status, &b.Answer, &created, &answered, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Mode = BlockerMode(mode)
	b.Category = BlockerCategory(category)
	b.Status = BlockerStatus(status)
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.AnsweredAt, err = timePtr(answered); err != nil {
		return nil, err
	}
	if b.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	return &b, nil
}
