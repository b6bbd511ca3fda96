// Package review drives the external reviewer tool: it invokes the CLI
// with a hard timeout, parses the structured verdict, and classifies
// failures. The retry rule is a finite-state predicate, not a heuristic:
// two attempts per logical review, and the second attempt's failure mode
// decides between RATE_LIMITED and ERROR.
package review

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/log"
)

// DefaultTimeout is the per-call hard limit on the reviewer subprocess
const DefaultTimeout = 5 * time.Minute

// ErrToolNotInstalled is returned when the reviewer binary is absent.
// Callers downgrade: skip the phase with a warning, never fatal.
var ErrToolNotInstalled = cerrors.New(cerrors.ErrCodeReviewerNotFound, "reviewer tool not installed").
	WithSuggestion("install the reviewer CLI or pass --skip-codex")

// Runner invokes the reviewer tool once and returns its stdout.
// Implementations must preserve partial stdout alongside a timeout error.
type Runner interface {
	Run(ctx context.Context, prompt string) (stdout string, err error)
}

// CLIRunner shells out to the reviewer binary:
//
//	<tool> exec --full-auto --sandbox read-only -C <project> <prompt>
type CLIRunner struct {
	Binary     string
	ProjectDir string
	Timeout    time.Duration
}

// Run executes one reviewer call with the hard timeout. A non-zero exit
// with non-empty stdout still counts as output per the tool's contract.
func (r *CLIRunner) Run(ctx context.Context, prompt string) (string, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := exec.LookPath(r.Binary); err != nil {
		return "", ErrToolNotInstalled
	}

	cmd := exec.CommandContext(ctx, r.Binary, "exec", "--full-auto", "--sandbox", "read-only", "-C", r.ProjectDir, prompt) //#nosec G204 -- binary comes from config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if ctx.Err() == context.DeadlineExceeded {
		// Partial stdout is preserved for classification.
		return out, cerrors.Wrap(cerrors.ErrCodeReviewerTimeout, "reviewer timed out", ctx.Err())
	}
	if err != nil && strings.TrimSpace(out) == "" {
		return "", cerrors.Wrap(cerrors.ErrCodeReviewerVerdict, "reviewer execution failed", err)
	}
	return out, nil
}

// Driver wraps a Runner with the two-attempt classification
type Driver struct {
	runner Runner
	logger *log.Logger

	// Metrics observed by the engine after each logical review
	Invocations        int
	NoVerdicts         int
	PresumedRateLimits int
}

// NewDriver creates a Driver over the given runner
func NewDriver(runner Runner, logger *log.Logger) *Driver {
	return &Driver{runner: runner, logger: logger}
}

// attempt is the classified outcome of one tool call
type attempt struct {
	result  *Result
	execErr error // non-nil: timeout, crash, or empty output
}

func (d *Driver) runOnce(ctx context.Context, prompt string) (attempt, error) {
	d.Invocations++
	out, err := d.runner.Run(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrToolNotInstalled) || cerrors.HasCode(err, cerrors.ErrCodeReviewerNotFound) {
			return attempt{}, ErrToolNotInstalled
		}
		// Timeout with partial stdout: try to salvage a verdict first.
		if res := ParseVerdict(out); res != nil {
			return attempt{result: res}, nil
		}
		return attempt{execErr: err}, nil
	}
	if strings.TrimSpace(out) == "" {
		return attempt{execErr: cerrors.New(cerrors.ErrCodeReviewerVerdict, "reviewer produced empty output")}, nil
	}
	if res := ParseVerdict(out); res != nil {
		return attempt{result: res}, nil
	}
	d.NoVerdicts++
	return attempt{result: &Result{Verdict: VerdictNoVerdict}}, nil
}

// Review performs one logical review: up to two attempts, serialized.
//
// Classification:
//   - either attempt returns a real verdict: return it immediately
//   - second attempt fails by execution error (timeout, crash, empty
//     output): RATE_LIMITED — the tool stopped responding persistently
//   - second attempt produces output that is unparseable: ERROR
//   - tool-not-found: ErrToolNotInstalled, never retried
func (d *Driver) Review(ctx context.Context, prompt string) (*Result, error) {
	first, err := d.runOnce(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if first.result != nil && first.result.Verdict.IsReal() {
		return first.result, nil
	}
	d.logger.Warn("reviewer attempt failed, retrying once",
		"mode", attemptMode(first))

	second, err := d.runOnce(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if second.result != nil && second.result.Verdict.IsReal() {
		return second.result, nil
	}
	if second.execErr != nil {
		d.PresumedRateLimits++
		return &Result{Verdict: VerdictRateLimited}, nil
	}
	return &Result{Verdict: VerdictError}, nil
}

func attemptMode(a attempt) string {
	if a.execErr != nil {
		return "execution_error"
	}
	return "no_verdict"
}
