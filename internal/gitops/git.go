// Package gitops wraps the git operations the platform needs: branches,
// commits, patch export, and checkout for checkpoint restore. The adapter is
// an interface so tests and future transports can substitute the exec-based
// implementation.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"codeframe/internal/shared/logging"
)

var (
	// ErrNotARepo means the workspace root is not a git repository.
	ErrNotARepo = errors.New("not a git repository")
	// ErrNothingToCommit means the worktree had no changes to record.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// GitError carries the failing subcommand and its stderr.
type GitError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", e.Op, e.Err)
	if e.Stderr != "" {
		msg += ": " + firstLine(e.Stderr)
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// Adapter is the git surface used by checkpoints and artifact commands.
type Adapter interface {
	CreateBranch(ctx context.Context, name string) error
	CurrentBranch(ctx context.Context) (string, error)
	// Head returns the commit hash the worktree is on.
	Head(ctx context.Context) (string, error)
	// Commit stages everything and records a commit, returning its hash.
	Commit(ctx context.Context, message string) (string, error)
	// ExportPatch writes the diff against HEAD to out and returns the path.
	ExportPatch(ctx context.Context, out string) (string, error)
	// Checkout moves the worktree to ref. Destructive: local changes are
	// overwritten.
	Checkout(ctx context.Context, ref string) error
}

// execGit is the exec-based Adapter over a repository root.
type execGit struct {
	root   string
	logger logging.Logger
}

// New returns an exec-based git adapter rooted at the repository.
func New(root string, logger logging.Logger) Adapter {
	return &execGit{root: root, logger: logging.OrNop(logger)}
}

func (g *execGit) CreateBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-b", name)
	return err
}

func (g *execGit) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

func (g *execGit) Head(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (g *execGit) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("commit message is required")
	}
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(status) == "" {
		return "", ErrNothingToCommit
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.Head(ctx)
}

func (g *execGit) ExportPatch(ctx context.Context, out string) (string, error) {
	diff, err := g.run(ctx, "diff", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "" {
		out = filepath.Join(g.root, ".codeframe", "export.patch")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, []byte(diff), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (g *execGit) Checkout(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", "--force", ref)
	return err
}

func (g *execGit) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.root
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	g.logger.Debug("gitops: git %s (err=%v)", strings.Join(args, " "), err)
	if err != nil {
		if strings.Contains(stderr.String(), "not a git repository") {
			return "", fmt.Errorf("%w: %s", ErrNotARepo, g.root)
		}
		return "", &GitError{Op: args[0], Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
