package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/clpotvin/claude-code-conductor/internal/planner"
	"github.com/clpotvin/claude-code-conductor/internal/review"
	"github.com/clpotvin/claude-code-conductor/internal/store"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
)

// planPhase invokes the planning LLM, persists the plan, derives tasks,
// and optionally runs the plan-review dialogue.
func (e *Engine) planPhase(ctx context.Context, state *store.RunState) error {
	if err := e.setStatus(store.RunPlanning); err != nil {
		return err
	}

	prompt, err := e.buildPlanPrompt(state)
	if err != nil {
		return err
	}
	// Feedback from the previous cycle's reviews is now in the prompt;
	// it must not leak into later cycles.
	e.reviewFeedback = nil
	e.logger.Info("planning", "cycle", state.CurrentCycle+1)
	response, err := e.planner.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	plan, err := planner.ParsePlan(response)
	if err != nil {
		// A planner that produced no task block is fatal for the cycle;
		// record the failure and escalate rather than looping.
		if cerrors.HasCode(err, cerrors.ErrCodePlanNoTasks) {
			return e.escalate(ctx, state, "planner produced no tasks", err.Error())
		}
		return err
	}

	var version int
	if _, err := e.store.MutateState(func(st *store.RunState) error {
		st.PlanVersion++
		version = st.PlanVersion
		return nil
	}); err != nil {
		return err
	}
	if err := e.store.SavePlan(version, plan.Markdown); err != nil {
		return err
	}

	tasks, err := planner.DeriveTasks(e.store, plan, e.logger)
	if err != nil {
		return err
	}
	e.logger.Info("plan persisted", "version", version, "tasks", len(tasks))

	if e.planRev != nil && !e.cfg.SkipReviewer {
		result, err := e.planRev.Run(ctx, e.buildPlanReviewPrompt(plan.Markdown))
		if err != nil {
			if cerrors.HasCode(err, cerrors.ErrCodeReviewerNotFound) {
				e.logger.Warn("reviewer not installed; skipping plan review")
				return nil
			}
			return err
		}
		e.recordDialogueMetrics(result)
		e.planApproved = result.Approved
		e.planRounds = result.Rounds
		if result.Final != nil && result.Final.Verdict == review.VerdictRateLimited {
			return cerrors.New(cerrors.ErrCodePlannerRateLimit, "plan reviewer presumed rate-limited")
		}
		if len(result.RecurrentIssues) > 0 {
			return e.escalate(ctx, state, "plan review disagreement",
				"the reviewer raised the same issue twice:\n"+strings.Join(result.RecurrentIssues, "\n"))
		}
		for _, issue := range result.Final.Issues {
			e.reviewFeedback = append(e.reviewFeedback, "plan review: "+issue)
		}
	}
	return nil
}

func (e *Engine) recordDialogueMetrics(result *review.DialogueResult) {
	_, err := e.store.MutateState(func(st *store.RunState) error {
		st.Reviewer.Invocations += result.Rounds
		if result.Final != nil && result.Final.Verdict == review.VerdictRateLimited {
			st.Reviewer.PresumedRateLimits++
		}
		if result.Final != nil && result.Final.Verdict == review.VerdictNoVerdict {
			st.Reviewer.NoVerdicts++
		}
		return nil
	})
	if err != nil {
		e.logger.WithError(err).Warn("reviewer metrics update failed")
	}
}

// buildPlanPrompt assembles the planning prompt: feature plus Q&A on the
// first cycle, and on replans the previous plan, task history, reviewer
// feedback, and unresolved known issues.
func (e *Engine) buildPlanPrompt(state *store.RunState) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the implementation of this feature as discrete tasks.\n\nFeature:\n%s\n", state.Feature)
	if e.cfg.QATranscript != "" {
		fmt.Fprintf(&b, "\nClarifying Q&A:\n%s\n", e.cfg.QATranscript)
	}
	if e.cfg.RedirectFeedback != "" {
		fmt.Fprintf(&b, "\nOperator redirect:\n%s\n", e.cfg.RedirectFeedback)
	}

	if state.PlanVersion > 0 {
		if prev, err := e.store.LoadPlan(state.PlanVersion); err == nil {
			fmt.Fprintf(&b, "\nPrevious plan (v%d):\n%s\n", state.PlanVersion, prev)
		}
		completed, _ := e.store.ListTasks(store.TaskCompleted)
		failed, _ := e.store.ListTasks(store.TaskFailed)
		if len(completed) > 0 {
			b.WriteString("\nAlready completed:\n")
			for _, task := range completed {
				fmt.Fprintf(&b, "- %s: %s\n", task.ID, task.Subject)
			}
		}
		if len(failed) > 0 {
			b.WriteString("\nFailed previously:\n")
			for _, task := range failed {
				fmt.Fprintf(&b, "- %s: %s\n", task.ID, task.Subject)
			}
		}
	}
	if len(e.reviewFeedback) > 0 {
		b.WriteString("\nReviewer feedback to address:\n")
		for _, fb := range e.reviewFeedback {
			fmt.Fprintf(&b, "- %s\n", fb)
		}
	}
	if e.registry != nil {
		unresolved, err := e.registry.Unresolved()
		if err != nil {
			return "", err
		}
		if len(unresolved) > 0 {
			b.WriteString("\nUnresolved known issues (create targeted fix tasks):\n")
			for _, issue := range unresolved {
				fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", issue.Severity, issue.Description, issue.FilePath, issue.ID)
			}
		}
	}

	b.WriteString(`
Respond with a markdown plan followed by a fenced JSON block:
{"tasks": [{"subject", "description", "task_type", "risk_level",
"depends_on_subjects", "security_requirements",
"performance_requirements", "acceptance_criteria"}]}
Subjects must be unique. No two concurrent tasks may modify the same file.`)
	return b.String(), nil
}

func (e *Engine) buildPlanReviewPrompt(planMarkdown string) string {
	return fmt.Sprintf(`Review this implementation plan for completeness, ordering, and risk.
Respond with a fenced JSON block:
{"review_performed": true, "verdict": "APPROVE|NEEDS_DISCUSSION|MAJOR_CONCERNS|NEEDS_FIXES|MAJOR_PROBLEMS",
"issues": [{"description", "severity"}], "summary": "..."}

Plan:
%s`, planMarkdown)
}
