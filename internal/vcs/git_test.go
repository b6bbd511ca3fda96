package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) *Git {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	g := New(dir)
	require.NoError(t, g.Commit(context.Background(), "initial"))
	return g
}

func TestHeadAndBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := initRepo(t)
	ctx := context.Background()

	sha, err := g.HeadSHA(ctx)
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestEnsureBranchAndDiff(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := initRepo(t)
	ctx := context.Background()

	base, err := g.HeadSHA(ctx)
	require.NoError(t, err)
	require.NoError(t, g.EnsureBranch(ctx, "conductor/feature"))

	// EnsureBranch is idempotent.
	require.NoError(t, g.EnsureBranch(ctx, "conductor/feature"))

	require.NoError(t, os.WriteFile(filepath.Join(g.dir, "new.txt"), []byte("x\n"), 0o644))
	require.NoError(t, g.Commit(ctx, "add new.txt"))

	files, err := g.ChangedFiles(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, files)

	diff, err := g.DiffAgainst(ctx, base)
	require.NoError(t, err)
	assert.Contains(t, diff, "new.txt")
}

func TestCommitCleanTreeIsNoOp(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := initRepo(t)
	ctx := context.Background()

	before, err := g.HeadSHA(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Commit(ctx, "nothing to do"))
	after, err := g.HeadSHA(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
