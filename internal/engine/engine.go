// Package engine is the top-level state machine: it orders the phases of
// each cycle, gates on findings, generates fix tasks, and guarantees that
// every transition is durable before the next phase starts.
package engine

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/budget"
	"github.com/clpotvin/claude-code-conductor/internal/coord"
	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/planner"
	"github.com/clpotvin/claude-code-conductor/internal/review"
	"github.com/clpotvin/claude-code-conductor/internal/semgrep"
	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/supervisor"
	"github.com/clpotvin/claude-code-conductor/internal/vcs"
)

// Defaults for the engine's cadence
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRateLimitPause = 5 * time.Hour
)

// Reviewer runs one multi-round review dialogue
type Reviewer interface {
	Run(ctx context.Context, basePrompt string) (*review.DialogueResult, error)
}

// Tracer runs the flow-tracing pipeline for a cycle
type Tracer interface {
	Trace(ctx context.Context, cycle int, diff string, changedFiles []string) (*flowtrace.Report, error)
}

// Config configures the engine
type Config struct {
	Concurrency    int
	MaxCycles      int
	Interactive    bool
	SkipReviewer   bool
	SkipFlowTrace  bool
	DryRun         bool
	PollInterval   time.Duration
	RateLimitPause time.Duration
	// GraceWindow bounds the wind-down drain wait; zero uses the
	// supervisor default
	GraceWindow time.Duration
	// WorkerCommand launches worker subprocesses (argv form)
	WorkerCommand []string
	// SentinelCommand optionally overrides the sentinel launch
	SentinelCommand []string
	// TestCommand is executed by the run_tests verb
	TestCommand string
	// QATranscript, ProjectRules, ThreatModel feed the shared worker context
	QATranscript string
	ProjectRules string
	ThreatModel  string
	// RedirectFeedback carries escalation redirect text into the next replan
	RedirectFeedback string
}

// Engine drives the plan/execute/review/checkpoint loop
type Engine struct {
	store    *store.Store
	planner  planner.Client
	planRev  Reviewer
	codeRev  Reviewer
	tracer   Tracer
	monitor  *budget.Monitor
	git      *vcs.Git
	registry *issues.Registry
	analyzer *semgrep.Runner
	logger   *log.Logger
	cfg      Config

	// coordAddr is set once the coordination listener is up
	coordAddr  string
	coordToken string

	// set when the execute loop stopped for a pause-worthy reason
	userPauseSeen bool
	budgetPause   bool
	pauseResetsAt *time.Time

	// reviewer feedback carried into the next replan; cleared once consumed
	reviewFeedback []string
	// plan-review facts for the cycle in flight
	planApproved bool
	planRounds   int
}

// New assembles an Engine. Nil collaborators disable their phase: a nil
// planRev skips plan review, a nil tracer skips flow tracing.
func New(s *store.Store, p planner.Client, planRev, codeRev Reviewer, tracer Tracer,
	monitor *budget.Monitor, git *vcs.Git, registry *issues.Registry,
	analyzer *semgrep.Runner, cfg Config, logger *log.Logger) *Engine {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RateLimitPause == 0 {
		cfg.RateLimitPause = DefaultRateLimitPause
	}
	return &Engine{
		store:    s,
		planner:  p,
		planRev:  planRev,
		codeRev:  codeRev,
		tracer:   tracer,
		monitor:  monitor,
		git:      git,
		registry: registry,
		analyzer: analyzer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run executes cycles until completion, escalation, pause, or failure.
// On resume, pending or in-progress tasks short-circuit planning.
func (e *Engine) Run(ctx context.Context) error {
	state, err := e.store.Load()
	if err != nil {
		return err
	}
	e.coordToken = coordTokenFor(state)

	shutdown, err := e.serveCoordination()
	if err != nil {
		return err
	}
	defer shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err = e.store.Load()
		if err != nil {
			return err
		}
		if state.CurrentCycle >= state.MaxCycles {
			return e.escalate(ctx, state, "cycle cap reached",
				"the run hit its cycle cap without completing")
		}

		cycleStart := time.Now().UTC()
		// A cycle with no plan review counts as approved, same as a nil
		// code-review result at checkpoint.
		e.planApproved = true
		e.planRounds = 0

		skipPlanning, err := e.hasOpenTasks()
		if err != nil {
			return err
		}
		if skipPlanning {
			e.logger.Info("open tasks found, resuming without replanning")
		} else {
			if err := e.planPhase(ctx, state); err != nil {
				if cerrors.HasCode(err, cerrors.ErrCodePlannerRateLimit) {
					return e.pause(state, nil)
				}
				return err
			}
		}
		if e.cfg.DryRun {
			e.logger.Info("dry run: tasks created, skipping execution")
			return nil
		}

		if err := e.executePhase(ctx); err != nil {
			return err
		}

		codeResult, report, err := e.reviewPhase(ctx, state)
		if err != nil {
			return err
		}
		if codeResult != nil && codeResult.Final != nil && codeResult.Final.Verdict == review.VerdictRateLimited {
			return e.pause(state, nil)
		}

		decision, err := e.checkpoint(ctx, state, cycleStart, codeResult, report)
		if err != nil {
			return err
		}

		switch decision {
		case DecisionComplete:
			return e.complete(ctx)
		case DecisionEscalate:
			return e.escalate(ctx, state, "cycle cap reached",
				"tasks remain but the next cycle would exceed the cap")
		case DecisionPause:
			return e.pause(state, e.pauseResetsAt)
		case DecisionContinue:
			// next cycle
		}
	}
}

// serveCoordination binds the verb service on loopback and returns a
// shutdown func. Workers get the address through their environment.
func (e *Engine) serveCoordination() (func(), error) {
	srv := coord.NewServer(e.store, coord.ServerConfig{
		Token:       e.coordToken,
		TestCommand: e.cfg.TestCommand,
	}, e.logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeWorkerSpawn, "bind coordination listener", err)
	}
	e.coordAddr = "http://" + ln.Addr().String()
	httpSrv := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.WithError(err).Error("coordination server stopped")
		}
	}()
	e.logger.Info("coordination service listening", "addr", e.coordAddr)
	return func() { _ = httpSrv.Close() }, nil
}

// coordTokenFor derives the per-run bearer token workers present
func coordTokenFor(state *store.RunState) string {
	return state.Branch + "-" + state.CreatedAt.UTC().Format("20060102150405")
}

func (e *Engine) hasOpenTasks() (bool, error) {
	tasks, err := e.store.ListTasks("")
	if err != nil {
		return false, err
	}
	for _, task := range tasks {
		if task.Status == store.TaskPending || task.Status == store.TaskInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) setStatus(status store.RunStatus) error {
	_, err := e.store.MutateState(func(state *store.RunState) error {
		state.Status = status
		return nil
	})
	return err
}

func (e *Engine) newSupervisor() *supervisor.Supervisor {
	return supervisor.New(e.store, supervisor.Config{
		WorkerCommand:   e.cfg.WorkerCommand,
		SentinelCommand: e.cfg.SentinelCommand,
		CoordAddr:       e.coordAddr,
		Token:           e.coordToken,
		GraceWindow:     e.cfg.GraceWindow,
	}, e.logger)
}

// complete marks the run finished
func (e *Engine) complete(ctx context.Context) error {
	if err := e.gitCheckpoint(ctx, "conductor: run complete"); err != nil {
		e.logger.WithError(err).Warn("final checkpoint commit failed")
	}
	_, err := e.store.MutateState(func(state *store.RunState) error {
		state.Status = store.RunCompleted
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("run completed")
	return nil
}

// pause records the pause durably and exits cleanly. resetsAt of nil uses
// the rate-limit pause window.
func (e *Engine) pause(state *store.RunState, resetsAt *time.Time) error {
	now := time.Now().UTC()
	resume := now.Add(e.cfg.RateLimitPause)
	if resetsAt != nil && !resetsAt.IsZero() {
		resume = resetsAt.UTC()
	}
	_, err := e.store.MutateState(func(st *store.RunState) error {
		st.Status = store.RunPaused
		st.PausedAt = &now
		st.ResumeAfter = &resume
		if snap := e.latestUsage(); snap != nil {
			st.LastUsage = snap
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("run paused", "resume_after", resume.Format(time.RFC3339))
	return nil
}

func (e *Engine) latestUsage() *store.UsageSnapshot {
	if e.monitor == nil {
		return nil
	}
	snap := e.monitor.Latest()
	if snap == nil {
		return nil
	}
	return &store.UsageSnapshot{
		Utilization: snap.Utilization,
		ResetsAt:    snap.ResetsAt,
		ObservedAt:  snap.ObservedAt,
	}
}

// gitCheckpoint commits best-effort; the engine never fails on it
func (e *Engine) gitCheckpoint(ctx context.Context, message string) error {
	if e.git == nil {
		return nil
	}
	return e.git.Commit(ctx, message)
}
