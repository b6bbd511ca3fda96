package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/review"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// reviewPhase runs code review and flow tracing concurrently over the diff
// from the base commit, plus a best-effort semgrep pass. All three are
// read-only against the working tree.
func (e *Engine) reviewPhase(ctx context.Context, state *store.RunState) (*review.DialogueResult, *flowtrace.Report, error) {
	if err := e.setStatus(store.RunReviewing); err != nil {
		return nil, nil, err
	}

	diff, changedFiles := e.diffAgainstBase(ctx, state)

	var (
		codeResult *review.DialogueResult
		report     *flowtrace.Report
		semIssues  []issues.KnownIssue
	)
	g, gctx := errgroup.WithContext(ctx)

	if e.codeRev != nil && !e.cfg.SkipReviewer && diff != "" {
		g.Go(func() error {
			result, err := e.codeRev.Run(gctx, e.buildCodeReviewPrompt(diff, changedFiles))
			if err != nil {
				if cerrors.HasCode(err, cerrors.ErrCodeReviewerNotFound) {
					e.logger.Warn("reviewer not installed; skipping code review")
					return nil
				}
				return err
			}
			codeResult = result
			return nil
		})
	}
	if e.tracer != nil && !e.cfg.SkipFlowTrace && diff != "" {
		g.Go(func() error {
			r, err := e.tracer.Trace(gctx, state.CurrentCycle+1, diff, changedFiles)
			if err != nil {
				e.logger.WithError(err).Warn("flow tracing failed; continuing without findings")
				return nil
			}
			report = r
			return nil
		})
	}
	if e.analyzer != nil {
		g.Go(func() error {
			if !e.analyzer.Installed() {
				e.logger.Warn("semgrep not installed; skipping static analysis")
				return nil
			}
			found, err := e.analyzer.Scan(gctx, e.store.ProjectDir(), changedFiles)
			if err != nil {
				// Semgrep failures downgrade; the engine never fails on it.
				return nil
			}
			semIssues = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if report != nil {
		if err := e.persistFlowReport(state, report); err != nil {
			e.logger.WithError(err).Warn("flow report save failed")
		}
	}
	e.recordFindings(state, codeResult, report, semIssues)
	if codeResult != nil {
		e.recordDialogueMetrics(codeResult)
	}
	return codeResult, report, nil
}

// diffAgainstBase is best-effort: a broken git state degrades to an empty
// diff with a warning rather than failing the cycle.
func (e *Engine) diffAgainstBase(ctx context.Context, state *store.RunState) (string, []string) {
	if e.git == nil || state.BaseCommit == "" {
		return "", nil
	}
	diff, err := e.git.DiffAgainst(ctx, state.BaseCommit)
	if err != nil {
		e.logger.WithError(err).Warn("diff against base failed")
		return "", nil
	}
	files, err := e.git.ChangedFiles(ctx, state.BaseCommit)
	if err != nil {
		e.logger.WithError(err).Warn("changed-file listing failed")
	}
	return diff, files
}

func (e *Engine) persistFlowReport(state *store.RunState, report *flowtrace.Report) error {
	path := e.store.FlowReportPath(state.CurrentCycle + 1)
	data, err := reportJSON(report)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	e.logger.Info("flow report written", "path", path)
	for _, line := range strings.Split(strings.TrimRight(report.HumanSummary(), "\n"), "\n") {
		e.logger.Info(line)
	}
	return nil
}

// recordFindings feeds every source into the known-issue registry
func (e *Engine) recordFindings(state *store.RunState, codeResult *review.DialogueResult, report *flowtrace.Report, semIssues []issues.KnownIssue) {
	if e.registry == nil {
		return
	}
	cycle := state.CurrentCycle + 1
	var entrants []issues.KnownIssue
	if report != nil {
		entrants = append(entrants, report.KnownIssues()...)
	}
	entrants = append(entrants, semIssues...)
	if codeResult != nil && codeResult.Final != nil && !codeResult.Approved {
		for _, issue := range codeResult.Final.Issues {
			entrants = append(entrants, issues.KnownIssue{
				Description: issue,
				Severity:    reviewIssueSeverity(issue),
				Source:      issues.SourceCodexReview,
			})
		}
	}
	if len(entrants) == 0 {
		return
	}
	added, err := e.registry.Add(cycle, entrants)
	if err != nil {
		e.logger.WithError(err).Warn("known-issue registry update failed")
		return
	}
	if added > 0 {
		e.logger.Info("known issues recorded", "added", added)
	}
}

// reviewIssueSeverity maps the "[severity] description" issue strings onto
// registry severities.
func reviewIssueSeverity(issue string) issues.Severity {
	switch {
	case strings.HasPrefix(issue, "[critical]"):
		return issues.SeverityCritical
	case strings.HasPrefix(issue, "[major]"):
		return issues.SeverityHigh
	case strings.HasPrefix(issue, "[minor]"):
		return issues.SeverityLow
	default:
		return issues.SeverityMedium
	}
}

func (e *Engine) buildCodeReviewPrompt(diff string, changedFiles []string) string {
	return fmt.Sprintf(`Review this change for correctness, security, and regressions.
Respond with a fenced JSON block:
{"review_performed": true, "verdict": "APPROVE|NEEDS_DISCUSSION|MAJOR_CONCERNS|NEEDS_FIXES|MAJOR_PROBLEMS",
"issues": [{"description", "severity"}], "summary": "..."}

Changed files:
%s

Diff:
%s`, strings.Join(changedFiles, "\n"), diff)
}
