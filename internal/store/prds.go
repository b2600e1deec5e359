package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeframe/internal/shared/utils/id"
)

// AddPRD stores a new requirements document as version 1 of a fresh chain.
// Content is opaque to the system.
func (s *Store) AddPRD(ctx context.Context, workspaceID, content string) (*PRD, error) {
	prd := &PRD{
		ID:          id.NewPRDID(),
		WorkspaceID: workspaceID,
		Content:     content,
		Version:     1,
		CreatedAt:   s.now(),
	}
	prd.ChainID = prd.ID
	if err := s.insertPRD(ctx, prd); err != nil {
		return nil, fmt.Errorf("add prd: %w", err)
	}
	return prd, nil
}

// UpdatePRD appends a new version to an existing chain. The parent must be
// the current head of its chain; updating a stale version is rejected so the
// chain stays linear.
func (s *Store) UpdatePRD(ctx context.Context, parentID, content, changeSummary string) (*PRD, error) {
	parent, err := s.GetPRD(ctx, parentID)
	if err != nil {
		return nil, err
	}
	head, err := s.LatestPRD(ctx, parent.ChainID)
	if err != nil {
		return nil, err
	}
	if head.ID != parent.ID {
		return nil, fmt.Errorf("prd %s is not the head of its chain (head is v%d)", parentID, head.Version)
	}

	prd := &PRD{
		ID:            id.NewPRDID(),
		WorkspaceID:   parent.WorkspaceID,
		Content:       content,
		Version:       parent.Version + 1,
		ParentID:      parent.ID,
		ChainID:       parent.ChainID,
		ChangeSummary: changeSummary,
		CreatedAt:     s.now(),
	}
	if err := s.insertPRD(ctx, prd); err != nil {
		return nil, fmt.Errorf("update prd: %w", err)
	}
	return prd, nil
}

// GetPRD loads one PRD version by ID.
func (s *Store) GetPRD(ctx context.Context, prdID string) (*PRD, error) {
	row := s.db.QueryRowContext(ctx, prdSelect+` WHERE id = ?`, prdID)
	return scanPRD(row)
}

// LatestPRD returns the newest version of a chain.
func (s *Store) LatestPRD(ctx context.Context, chainID string) (*PRD, error) {
	row := s.db.QueryRowContext(ctx,
		prdSelect+` WHERE chain_id = ? ORDER BY version DESC LIMIT 1`, chainID)
	return scanPRD(row)
}

// ListPRDChain returns all versions of a chain, oldest first.
func (s *Store) ListPRDChain(ctx context.Context, chainID string) ([]*PRD, error) {
	rows, err := s.db.QueryContext(ctx,
		prdSelect+` WHERE chain_id = ? ORDER BY version`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PRD
	for rows.Next() {
		prd, err := scanPRD(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, prd)
	}
	return out, rows.Err()
}

// ListPRDHeads returns the newest version of every chain in the workspace.
func (s *Store) ListPRDHeads(ctx context.Context, workspaceID string) ([]*PRD, error) {
	rows, err := s.db.QueryContext(ctx, prdSelect+`
		WHERE workspace_id = ?
		  AND version = (SELECT MAX(version) FROM prds p2 WHERE p2.chain_id = prds.chain_id)
		ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PRD
	for rows.Next() {
		prd, err := scanPRD(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, prd)
	}
	return out, rows.Err()
}

// DeletePRDChain removes every version of the chain the given PRD belongs to.
func (s *Store) DeletePRDChain(ctx context.Context, prdID string) (int64, error) {
	prd, err := s.GetPRD(ctx, prdID)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM prds WHERE chain_id = ?`, prd.ChainID)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete prd chain: %w", err)
	}
	return deleted, nil
}

const prdSelect = `SELECT id, workspace_id, content, version, COALESCE(parent_id, ''), chain_id, change_summary, created_at FROM prds`

func (s *Store) insertPRD(ctx context.Context, prd *PRD) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		var parent any
		if prd.ParentID != "" {
			parent = prd.ParentID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prds (id, workspace_id, content, version, parent_id, chain_id, change_summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			prd.ID, prd.WorkspaceID, prd.Content, prd.Version, parent,
			prd.ChainID, prd.ChangeSummary, formatTime(prd.CreatedAt))
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPRD(row rowScanner) (*PRD, error) {
	var prd PRD
	var created string
	err := row.Scan(&prd.ID, &prd.WorkspaceID, &prd.Content, &prd.Version,
		&prd.ParentID, &prd.ChainID, &prd.ChangeSummary, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	prd.CreatedAt, err = parseTime(created)
	if err != nil {
		return nil, err
	}
	return &prd, nil
}
