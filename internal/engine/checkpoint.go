package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/review"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// checkpoint commits, tallies the cycle, applies the gate, appends the
// cycle record, synthesizes fix tasks, and marks resolved issues.
func (e *Engine) checkpoint(ctx context.Context, state *store.RunState, cycleStart time.Time, codeResult *review.DialogueResult, report *flowtrace.Report) (Decision, error) {
	if err := e.setStatus(store.RunCheckpointing); err != nil {
		return "", err
	}

	cycle := state.CurrentCycle + 1
	if err := e.gitCheckpoint(ctx, fmt.Sprintf("conductor: checkpoint cycle %d", cycle)); err != nil {
		e.logger.WithError(err).Warn("checkpoint commit failed")
	}

	completed, err := e.store.ListTasks(store.TaskCompleted)
	if err != nil {
		return "", err
	}
	failed, err := e.store.ListTasks(store.TaskFailed)
	if err != nil {
		return "", err
	}
	pending, err := e.store.ListTasks(store.TaskPending)
	if err != nil {
		return "", err
	}
	inProgress, err := e.store.ListTasks(store.TaskInProgress)
	if err != nil {
		return "", err
	}

	if e.registry != nil {
		if err := markResolvedIssues(e.store, e.registry, cycle); err != nil {
			e.logger.WithError(err).Warn("resolved-issue marking failed")
		}
	}

	codeApproved := codeResult == nil || codeResult.Approved
	flowSevere := report != nil && (report.Summary.Critical > 0 || report.Summary.High > 0)

	decision := Gate(GateInputs{
		UserPauseRequested: e.userPauseSeen,
		BudgetWindDown:     e.budgetPause,
		FlowCriticalOrHigh: flowSevere,
		CodeApproved:       codeApproved,
		Remaining:          len(pending) + len(inProgress),
		Failed:             len(failed),
		CurrentCycle:       state.CurrentCycle,
		MaxCycles:          state.MaxCycles,
	})
	e.logger.Info("checkpoint decision", "cycle", cycle, "decision", string(decision),
		"completed", len(completed), "failed", len(failed), "remaining", len(pending)+len(inProgress))

	record := store.CycleRecord{
		Cycle:          cycle,
		PlanVersion:    state.PlanVersion,
		PlanDigest:     e.planDigest(state.PlanVersion),
		TasksCompleted: len(completed),
		TasksFailed:    len(failed),
		PlanApproved:   e.planApproved,
		PlanRounds:     e.planRounds,
		CodeApproved:   codeApproved,
		StartedAt:      cycleStart,
		EndedAt:        time.Now().UTC(),
	}
	record.DurationSecs = record.EndedAt.Sub(record.StartedAt).Seconds()
	if codeResult != nil {
		record.CodeRounds = codeResult.Rounds
	}
	if report != nil {
		record.FlowSummary = &store.FlowStats{
			Critical:      report.Summary.Critical,
			High:          report.Summary.High,
			Medium:        report.Summary.Medium,
			Low:           report.Summary.Low,
			CrossBoundary: report.Summary.CrossBoundary,
		}
	}
	if _, err := e.store.MutateState(func(st *store.RunState) error {
		st.CycleHistory = append(st.CycleHistory, record)
		st.CurrentCycle = cycle
		return nil
	}); err != nil {
		return "", err
	}

	if decision == DecisionContinue && flowSevere && e.registry != nil {
		created, err := synthesizeFixTasks(e.store, e.registry, report, e.logger)
		if err != nil {
			return "", err
		}
		if len(created) > 0 {
			e.logger.Info("fix tasks appended", "count", len(created))
		}
	}
	return decision, nil
}

// planDigest fingerprints the current plan text for the cycle record
func (e *Engine) planDigest(version int) string {
	if version == 0 {
		return ""
	}
	text, err := e.store.LoadPlan(version)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:8])
}

// reportJSON and writeFile keep the report persistence dependency-light
func reportJSON(report *flowtrace.Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}
