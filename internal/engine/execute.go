package engine

import (
	"context"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/supervisor"
)

// orphanSweepEvery spaces periodic orphan sweeps in poll ticks
const orphanSweepEvery = 6

// executePhase runs the worker fleet until the board drains or a stop
// condition fires. Stop conditions, in priority order per poll: no work
// left; user-requested pause; budget wind-down.
func (e *Engine) executePhase(ctx context.Context) error {
	if err := e.setStatus(store.RunExecuting); err != nil {
		return err
	}
	e.userPauseSeen = false
	e.budgetPause = false
	e.pauseResetsAt = nil

	sup := e.newSupervisor()

	// Reclaim tasks stranded by a prior crash before spawning anything.
	if _, err := sup.SweepOrphans(); err != nil {
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if e.monitor != nil {
		go e.monitor.Run(monitorCtx)
	}

	pending, err := e.store.ListTasks(store.TaskPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		e.logger.Info("no pending tasks, skipping worker spawn")
		return nil
	}

	shared := e.sharedContext()
	n := min(e.cfg.Concurrency, len(pending))
	if err := sup.SpawnWorkers(ctx, n, shared); err != nil {
		return err
	}
	if err := sup.SpawnSentinel(ctx, shared); err != nil {
		e.logger.WithError(err).Warn("sentinel spawn failed; continuing without it")
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	tick := 0

	for {
		select {
		case <-ctx.Done():
			sup.Kill()
			return ctx.Err()
		case <-ticker.C:
		}
		tick++

		pending, err := e.store.ListTasks(store.TaskPending)
		if err != nil {
			return err
		}
		inProgress, err := e.store.ListTasks(store.TaskInProgress)
		if err != nil {
			return err
		}
		if len(pending) == 0 && len(inProgress) == 0 {
			e.logger.Info("task board drained")
			break
		}

		// User-requested pause outranks the budget when both fire in the
		// same poll.
		if e.store.PauseRequested() {
			if err := e.store.ConsumePauseSignal(); err != nil {
				return err
			}
			e.userPauseSeen = true
			e.logger.Info("user-requested pause observed")
			_ = sup.BroadcastWindDown(store.WindDownUserRequested, nil)
			sup.WaitForAllWorkers(ctx)
			break
		}
		if e.monitor != nil && (e.monitor.IsCritical() || e.monitor.IsWindDown()) {
			e.budgetPause = true
			var resetsAt *time.Time
			if snap := e.monitor.Latest(); snap != nil {
				t := snap.ResetsAt
				resetsAt = &t
			}
			e.pauseResetsAt = resetsAt
			e.logger.Info("budget wind-down triggered")
			_ = sup.BroadcastWindDown(store.WindDownUsageLimit, resetsAt)
			sup.WaitForAllWorkers(ctx)
			break
		}

		if tick%orphanSweepEvery == 0 {
			if _, err := sup.SweepOrphans(); err != nil {
				e.logger.WithError(err).Warn("orphan sweep failed")
			}
		}

		// Respawn when capacity has gone idle but work remains.
		if len(pending) > 0 && (sup.ActiveWorkerCount() == 0 || sup.AllIdle()) {
			n := min(e.cfg.Concurrency-sup.ActiveWorkerCount(), len(pending))
			if n > 0 {
				e.logger.Info("respawning workers", "count", n)
				if err := sup.SpawnWorkers(ctx, n, shared); err != nil {
					e.logger.WithError(err).Warn("respawn failed")
				}
			}
		}
	}

	// Tell the sentinel (and any stragglers) to exit, then sweep whatever
	// missed the grace window.
	if !e.userPauseSeen && !e.budgetPause {
		_ = sup.BroadcastWindDown(store.WindDownCycleLimit, nil)
		sup.WaitForAllWorkers(ctx)
	}
	sup.Kill()
	if _, err := sup.SweepOrphans(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) sharedContext() *supervisor.SharedContext {
	state, err := e.store.Load()
	if err != nil {
		return nil
	}
	conventions, _ := e.store.LoadConventions()
	return &supervisor.SharedContext{
		Feature:      state.Feature,
		QATranscript: e.cfg.QATranscript,
		Conventions:  conventions,
		ProjectRules: e.cfg.ProjectRules,
		ThreatModel:  e.cfg.ThreatModel,
	}
}
