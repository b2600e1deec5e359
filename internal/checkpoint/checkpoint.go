// Package checkpoint snapshots and restores workspace state. A checkpoint is
// three coordinates captured together: the git commit the worktree is on, a
// standalone copy of the state database, and the event-log cursor at capture
// time. Restore rewinds all three.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"codeframe/internal/gitops"
	"codeframe/internal/shared/logging"
	"codeframe/internal/shared/utils/id"
	"codeframe/internal/store"
)

// ErrBatchRunning means a restore was attempted while a batch is executing.
var ErrBatchRunning = errors.New("a batch is running; cancel it before restoring")

// Manager creates and restores checkpoints for one workspace.
type Manager struct {
	st          *store.Store
	git         gitops.Adapter
	workspaceID string
	dir         string
	logger      logging.Logger
}

// New builds a Manager. dir is where snapshot files are kept, typically
// .codeframe/checkpoints inside the workspace.
func New(st *store.Store, git gitops.Adapter, workspaceID, dir string, logger logging.Logger) *Manager {
	return &Manager{
		st:          st,
		git:         git,
		workspaceID: workspaceID,
		dir:         dir,
		logger:      logging.OrNop(logger),
	}
}

// Store returns the manager's current store handle. After Restore this is a
// freshly opened handle; callers holding the old one must switch to it.
func (m *Manager) Store() *store.Store { return m.st }

// Create captures a checkpoint: the current HEAD commit, the event cursor,
// and a snapshot of the state database. The cursor is read before the
// snapshot so the snapshot never trails it.
func (m *Manager) Create(ctx context.Context, label string) (*store.Checkpoint, error) {
	ref, err := m.git.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture git ref: %w", err)
	}
	cursor, err := m.st.LatestEventID(ctx, m.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("capture event cursor: %w", err)
	}

	snapshot := filepath.Join(m.dir, id.NewCheckpointID()+".db")
	if err := m.st.SnapshotTo(ctx, snapshot); err != nil {
		return nil, err
	}

	cp, err := m.st.CreateCheckpoint(ctx, m.workspaceID, label, ref, snapshot, cursor)
	if err != nil {
		os.Remove(snapshot)
		return nil, err
	}
	m.st.AppendEvent(ctx, m.workspaceID, store.EventCheckpointCreated, cp.ID, map[string]any{
		"label":   label,
		"git_ref": ref,
	})
	m.logger.Info("checkpoint: created %s at %s", cp.ID, shortRef(ref))
	return cp, nil
}

// List returns the workspace's checkpoints, newest first.
func (m *Manager) List(ctx context.Context) ([]*store.Checkpoint, error) {
	return m.st.ListCheckpoints(ctx, m.workspaceID)
}

// Restore rewinds the workspace to a checkpoint: checks out the recorded git
// commit, replaces the live state database with the snapshot, and drops
// events newer than the recorded cursor. It refuses to run while a batch is
// executing. The returned store replaces the one the Manager was built with;
// the old handle is closed.
func (m *Manager) Restore(ctx context.Context, checkpointID string) (*store.Store, error) {
	cp, err := m.st.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.WorkspaceID != m.workspaceID {
		return nil, fmt.Errorf("checkpoint %s belongs to another workspace", checkpointID)
	}
	if _, err := os.Stat(cp.StorePath); err != nil {
		return nil, fmt.Errorf("checkpoint snapshot missing: %w", err)
	}

	batches, err := m.st.ListBatches(ctx, m.workspaceID)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		if b.Status == store.BatchRunning {
			return nil, fmt.Errorf("%w (batch %s)", ErrBatchRunning, b.ID)
		}
	}

	if err := m.git.Checkout(ctx, cp.GitRef); err != nil {
		return nil, fmt.Errorf("restore worktree: %w", err)
	}

	livePath := m.st.Path()
	if err := m.st.Close(); err != nil {
		return nil, fmt.Errorf("close state db: %w", err)
	}
	// WAL sidecars belong to the old database; remove them with it.
	for _, p := range []string{livePath, livePath + "-wal", livePath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("replace state db: %w", err)
		}
	}
	if err := copyFile(cp.StorePath, livePath); err != nil {
		return nil, fmt.Errorf("replace state db: %w", err)
	}

	st, err := store.Open(livePath, store.WithLogger(m.logger))
	if err != nil {
		return nil, fmt.Errorf("reopen state db: %w", err)
	}
	if cp.EventCursor != "" {
		if _, err := st.TruncateEventsAfter(ctx, m.workspaceID, cp.EventCursor); err != nil && !errors.Is(err, store.ErrNotFound) {
			st.Close()
			return nil, fmt.Errorf("truncate event log: %w", err)
		}
	}

	m.st = st
	m.logger.Info("checkpoint: restored %s (git %s)", cp.ID, shortRef(cp.GitRef))
	return st, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
