// Package vcs is a thin facade over the git CLI for the operations the
// cycle engine needs. Checkpoint-style call sites treat failures as
// best-effort and warn; the engine decides what is fatal.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
)

// Git operates on one working tree
type Git struct {
	dir string
}

// New returns a Git facade rooted at dir
func New(dir string) *Git {
	return &Git{dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", cerrors.Wrap(cerrors.ErrCodeGitCommand,
			fmt.Sprintf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HeadSHA returns the current commit hash
func (g *Git) HeadSHA(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name, or an error with
// VCS-002 when HEAD is detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", cerrors.New(cerrors.ErrCodeGitDetached, "HEAD is detached").
			WithSuggestion("check out a branch before starting a run")
	}
	return out, nil
}

// EnsureBranch creates branch off the current HEAD if it does not exist,
// then checks it out.
func (g *Git) EnsureBranch(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		if _, err := g.run(ctx, "branch", branch); err != nil {
			return err
		}
	}
	_, err := g.run(ctx, "checkout", branch)
	return err
}

// DiffAgainst returns the unified diff from base to the working tree
func (g *Git) DiffAgainst(ctx context.Context, base string) (string, error) {
	return g.run(ctx, "diff", base)
}

// ChangedFiles lists paths changed since base
func (g *Git) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", base)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Commit stages everything and commits. A clean tree is a no-op, not an
// error, so checkpoint commits can run unconditionally.
func (g *Git) Commit(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return err
	}
	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	_, err = g.run(ctx, "commit", "-m", message)
	return err
}

// PullRebase rebases local work on the remote branch
func (g *Git) PullRebase(ctx context.Context) error {
	_, err := g.run(ctx, "pull", "--rebase")
	return err
}
