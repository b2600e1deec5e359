// Package workspace owns the on-disk .codeframe layout: creating it on init,
// reopening it for every later command, and detecting the target repository's
// toolchain for config bootstrap.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
	"codeframe/internal/store"
)

const (
	// Dir is the workspace metadata directory created inside the target repo.
	Dir            = ".codeframe"
	stateFile      = "state.db"
	configFile     = "config.yaml"
	checkpointsDir = "checkpoints"
	logsDir        = "logs"
)

var (
	// ErrNotInitialized means the target repo has no .codeframe directory.
	ErrNotInitialized = errors.New("workspace not initialized (run init first)")
	// ErrAlreadyInitialized means init was run twice on the same repo.
	ErrAlreadyInitialized = errors.New("workspace already initialized")
)

// Handle bundles everything a command needs once a workspace is open.
type Handle struct {
	Root      string // target repository root
	Workspace *store.Workspace
	Store     *store.Store
	Config    *config.WorkspaceConfig
}

// StatePath returns the state database path for a repo root.
func StatePath(root string) string { return filepath.Join(root, Dir, stateFile) }

// ConfigPath returns the workspace config path for a repo root.
func ConfigPath(root string) string { return filepath.Join(root, Dir, configFile) }

// CheckpointsPath returns the snapshot directory for a repo root.
func CheckpointsPath(root string) string { return filepath.Join(root, Dir, checkpointsDir) }

// LogsPath returns the log directory for a repo root.
func LogsPath(root string) string { return filepath.Join(root, Dir, logsDir) }

// Init creates the .codeframe layout inside root, registers the workspace in
// a fresh state database, and records the WORKSPACE_INIT event. Fails if the
// workspace already exists.
func Init(ctx context.Context, root string, logger logging.Logger) (*Handle, error) {
	logger = logging.OrNop(logger)
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("repo path %s is not a directory", root)
	}
	if _, err := os.Stat(filepath.Join(root, Dir)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, root)
	}

	for _, dir := range []string{filepath.Join(root, Dir), CheckpointsPath(root), LogsPath(root)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace layout: %w", err)
		}
	}

	st, err := store.Open(StatePath(root), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ws, err := st.CreateWorkspace(ctx, root)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.AppendEvent(ctx, ws.ID, store.EventWorkspaceInit, ws.ID, map[string]any{
		"repo_path": root,
	})

	cfg := &config.WorkspaceConfig{}
	if err := cfg.Save(ConfigPath(root)); err != nil {
		st.Close()
		return nil, err
	}

	logger.Info("workspace: initialized %s at %s", ws.ID, root)
	return &Handle{Root: root, Workspace: ws, Store: st, Config: cfg}, nil
}

// Open reopens an initialized workspace.
func Open(ctx context.Context, root string, logger logging.Logger) (*Handle, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(StatePath(root)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, root)
	}

	st, err := store.Open(StatePath(root), store.WithLogger(logging.OrNop(logger)))
	if err != nil {
		return nil, err
	}
	ws, err := st.DefaultWorkspace(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	cfg, err := config.LoadWorkspaceConfig(ConfigPath(root))
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Handle{Root: root, Workspace: ws, Store: st, Config: cfg}, nil
}

// Close releases the handle's store.
func (h *Handle) Close() error { return h.Store.Close() }
