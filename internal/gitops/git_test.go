package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (Adapter, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "dev"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return New(dir, nil), dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCommitReturnsHash(t *testing.T) {
	ctx := context.Background()
	g, dir := newTestRepo(t)

	writeFile(t, dir, "main.py", "print('hi')\n")
	hash, err := g.Commit(ctx, "add entrypoint")
	require.NoError(t, err)
	require.Len(t, hash, 40)

	head, err := g.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, hash, head)
}

func TestCommitNothingToCommit(t *testing.T) {
	ctx := context.Background()
	g, dir := newTestRepo(t)

	writeFile(t, dir, "a.txt", "a\n")
	_, err := g.Commit(ctx, "first")
	require.NoError(t, err)

	_, err = g.Commit(ctx, "empty")
	require.ErrorIs(t, err, ErrNothingToCommit)
}

func TestCommitRequiresMessage(t *testing.T) {
	g, _ := newTestRepo(t)
	_, err := g.Commit(context.Background(), "   ")
	require.Error(t, err)
}

func TestCreateBranchAndCurrentBranch(t *testing.T) {
	ctx := context.Background()
	g, dir := newTestRepo(t)

	writeFile(t, dir, "a.txt", "a\n")
	_, err := g.Commit(ctx, "first")
	require.NoError(t, err)

	require.NoError(t, g.CreateBranch(ctx, "task/auth-login"))
	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "task/auth-login", branch)
}

func TestExportPatchWritesUncommittedDiff(t *testing.T) {
	ctx := context.Background()
	g, dir := newTestRepo(t)

	writeFile(t, dir, "a.txt", "a\n")
	_, err := g.Commit(ctx, "first")
	require.NoError(t, err)

	writeFile(t, dir, "a.txt", "a\nb\n")
	out := filepath.Join(dir, "out", "work.patch")
	path, err := g.ExportPatch(ctx, out)
	require.NoError(t, err)
	require.Equal(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "+b")
}

func TestCheckoutRestoresRef(t *testing.T) {
	ctx := context.Background()
	g, dir := newTestRepo(t)

	writeFile(t, dir, "a.txt", "v1\n")
	first, err := g.Commit(ctx, "v1")
	require.NoError(t, err)

	writeFile(t, dir, "a.txt", "v2\n")
	_, err = g.Commit(ctx, "v2")
	require.NoError(t, err)

	require.NoError(t, g.Checkout(ctx, first))
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1\n", string(data))
}

func TestNotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := New(t.TempDir(), nil)
	_, err := g.Head(context.Background())
	require.ErrorIs(t, err, ErrNotARepo)
}
