package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// CreateWorkspace registers the workspace root. Called once by init.
func (s *Store) CreateWorkspace(ctx context.Context, repoPath string) (*Workspace, error) {
	ws := &Workspace{
		ID:        id.NewWorkspaceID(),
		RepoPath:  repoPath,
		CreatedAt: s.now(),
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workspaces (id, repo_path, created_at) VALUES (?, ?, ?)`,
			ws.ID, ws.RepoPath, formatTime(ws.CreatedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

// GetWorkspace loads a workspace by ID.
func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_path, created_at FROM workspaces WHERE id = ?`, workspaceID)
	return scanWorkspace(row)
}

// DefaultWorkspace returns the sole workspace of this store. The store file
// lives inside the workspace, so in practice there is exactly one.
func (s *Store) DefaultWorkspace(ctx context.Context) (*Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_path, created_at FROM workspaces ORDER BY created_at LIMIT 1`)
	return scanWorkspace(row)
}

func scanWorkspace(row *sql.Row) (*Workspace, error) {
	var ws Workspace
	var created string
	if err := row.Scan(&ws.ID, &ws.RepoPath, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	ws.CreatedAt = t
	return &ws, nil
}
