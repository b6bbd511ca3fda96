// Package supervisor owns the worker lifecycle: it spawns worker
// subprocesses against the coordination service, injects shared context,
// tracks liveness, broadcasts wind-down, waits for drain, and reclaims
// orphaned tasks.
package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// DefaultGraceWindow is how long wind-down waits for workers to drain
const DefaultGraceWindow = 2 * time.Minute

// Config configures the supervisor
type Config struct {
	// WorkerCommand launches one worker subprocess (argv form)
	WorkerCommand []string
	// SentinelCommand launches the read-only sentinel; empty reuses
	// WorkerCommand with the sentinel role env
	SentinelCommand []string
	// CoordAddr is the coordination service base URL
	CoordAddr string
	// Token authenticates workers to the coordination service
	Token string
	// GraceWindow bounds the wind-down drain wait
	GraceWindow time.Duration
}

// SharedContext is injected into every worker before launch
type SharedContext struct {
	Feature      string          `json:"feature"`
	QATranscript string          `json:"qa_transcript,omitempty"`
	Conventions  json.RawMessage `json:"conventions,omitempty"`
	ProjectRules string          `json:"project_rules,omitempty"`
	ThreatModel  string          `json:"threat_model,omitempty"`
}

// Supervisor manages the live worker set for one run
type Supervisor struct {
	store  *store.Store
	cfg    Config
	logger *log.Logger

	procs *procSet
}

// New creates a Supervisor
func New(s *store.Store, cfg Config, logger *log.Logger) *Supervisor {
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	return &Supervisor{store: s, cfg: cfg, logger: logger, procs: newProcSet()}
}

// SpawnWorkers launches n execution workers, each with a fresh monotone
// session id, a session directory with initial status, and the shared
// context written before the subprocess starts.
func (s *Supervisor) SpawnWorkers(ctx context.Context, n int, shared *SharedContext) error {
	for i := 0; i < n; i++ {
		if err := s.spawnOne(ctx, RoleWorker, shared); err != nil {
			return err
		}
	}
	return nil
}

// SpawnSentinel launches the per-cycle read-only sentinel. It scans
// completed tasks for security problems and broadcasts findings; it exits
// on its own when it observes a wind-down broadcast.
func (s *Supervisor) SpawnSentinel(ctx context.Context, shared *SharedContext) error {
	return s.spawnOne(ctx, RoleSentinel, shared)
}

func (s *Supervisor) spawnOne(ctx context.Context, role Role, shared *SharedContext) error {
	sessionID, err := s.store.NextSessionID()
	if err != nil {
		return err
	}
	if err := s.store.PutSessionStatus(&store.SessionStatus{
		SessionID: sessionID,
		State:     store.SessionStarting,
	}); err != nil {
		return err
	}
	if shared != nil {
		if err := s.store.WriteSessionContext(sessionID, shared); err != nil {
			return err
		}
	}

	proc, err := s.launch(ctx, sessionID, role)
	if err != nil {
		s.finalize(sessionID, store.SessionFailed, err.Error())
		return err
	}
	s.procs.add(proc)
	s.syncActiveSessions()
	s.logger.Info("spawned", "session", sessionID, "role", role)
	return nil
}

func (s *Supervisor) remove(sessionID string) {
	s.procs.remove(sessionID)
	s.syncActiveSessions()
}

// syncActiveSessions mirrors the live set into RunState so a crashed
// engine can reconstruct it for orphan recovery.
func (s *Supervisor) syncActiveSessions() {
	active := s.procs.sessionIDs()
	_, err := s.store.MutateState(func(state *store.RunState) error {
		state.ActiveSessions = active
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("active session sync failed")
	}
}

// ActiveSessions returns the ids of live worker subprocesses
func (s *Supervisor) ActiveSessions() []string {
	return s.procs.sessionIDs()
}

// ActiveWorkerCount counts live execution workers (excluding the sentinel)
func (s *Supervisor) ActiveWorkerCount() int {
	return s.procs.countRole(RoleWorker)
}

// AllIdle reports whether every live execution worker's durable status is
// idle. Used by the respawn policy.
func (s *Supervisor) AllIdle() bool {
	for _, id := range s.procs.sessionIDsByRole(RoleWorker) {
		status, err := s.store.GetSessionStatus(id)
		if err != nil || status == nil {
			return false
		}
		if status.State != store.SessionIdle {
			return false
		}
	}
	return true
}

// BroadcastWindDown publishes the wind-down message every worker observes
// on its next read_updates poll.
func (s *Supervisor) BroadcastWindDown(reason store.WindDownReason, resetsAt *time.Time) error {
	metadata := map[string]string{"reason": string(reason)}
	if resetsAt != nil {
		metadata["resets_at"] = resetsAt.UTC().Format(time.RFC3339)
	}
	_, err := s.store.AppendMessage(&store.Message{
		From:     "engine",
		Type:     store.MessageWindDown,
		Content:  "finish your current atomic unit, commit, and exit",
		Metadata: metadata,
	})
	if err != nil {
		// Broadcast is best-effort; orphan recovery reclaims tasks of any
		// worker that never sees it.
		s.logger.WithError(err).Warn("wind-down broadcast failed")
	}
	return err
}

// WaitForAllWorkers blocks until every subprocess exits or the grace
// window elapses. Returns the session ids still alive at timeout; those
// are orphans for the next sweep.
func (s *Supervisor) WaitForAllWorkers(ctx context.Context) []string {
	deadline := time.NewTimer(s.cfg.GraceWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.procs.empty() {
			return nil
		}
		select {
		case <-ctx.Done():
			return s.procs.sessionIDs()
		case <-deadline.C:
			remaining := s.procs.sessionIDs()
			s.logger.Warn("grace window elapsed with workers still live", "remaining", len(remaining))
			return remaining
		case <-ticker.C:
		}
	}
}

// SweepOrphans resets in_progress tasks owned by dead sessions. Runs both
// before spawning (reclaiming from a prior crashed run) and periodically
// during execution.
func (s *Supervisor) SweepOrphans() (int, error) {
	active := map[string]bool{}
	for _, id := range s.procs.sessionIDs() {
		active[id] = true
	}
	count, err := s.store.ResetOrphans(active)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("orphaned tasks reset", "count", count)
	}
	return count, nil
}

// Kill terminates every live subprocess immediately. Used on engine
// shutdown after the grace window.
func (s *Supervisor) Kill() {
	for _, proc := range s.procs.all() {
		if proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
	}
}
