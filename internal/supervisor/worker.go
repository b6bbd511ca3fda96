package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// Role distinguishes execution workers from the read-only sentinel
type Role string

// Worker roles
const (
	RoleWorker   Role = "worker"
	RoleSentinel Role = "sentinel"
)

// Environment variables that form the worker subprocess contract
const (
	EnvProject   = "CONDUCTOR_PROJECT"
	EnvCoordAddr = "CONDUCTOR_COORD_ADDR"
	EnvSession   = "CONDUCTOR_SESSION"
	EnvToken     = "CONDUCTOR_TOKEN"
	EnvRole      = "CONDUCTOR_ROLE"
)

// event is one line of the worker's JSONL event stream. Only result and
// error events are observed by the supervisor; tool_use is debug noise.
type event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

// workerProc tracks one live worker subprocess
type workerProc struct {
	sessionID string
	role      Role
	cmd       *exec.Cmd
	done      chan struct{}

	mu      sync.Mutex
	failed  bool
	lastErr string
}

func (w *workerProc) fail(msg string) {
	w.mu.Lock()
	w.failed = true
	w.lastErr = msg
	w.mu.Unlock()
}

func (w *workerProc) failure() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed, w.lastErr
}

// launch starts the subprocess and begins consuming its event stream.
// The returned proc's done channel closes when the stream ends and the
// process has been reaped.
func (s *Supervisor) launch(ctx context.Context, sessionID string, role Role) (*workerProc, error) {
	args := s.cfg.WorkerCommand
	if role == RoleSentinel && len(s.cfg.SentinelCommand) > 0 {
		args = s.cfg.SentinelCommand
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no worker command configured")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //#nosec G204 -- command comes from config
	cmd.Dir = s.store.ProjectDir()
	cmd.Env = append(os.Environ(),
		EnvProject+"="+s.store.ProjectDir(),
		EnvCoordAddr+"="+s.cfg.CoordAddr,
		EnvSession+"="+sessionID,
		EnvToken+"="+s.cfg.Token,
		EnvRole+"="+string(role),
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	proc := &workerProc{sessionID: sessionID, role: role, cmd: cmd, done: make(chan struct{})}
	go s.consume(proc, stdout)
	return proc, nil
}

// consume reads the event stream until EOF, then reaps the process and
// finalizes the session status.
func (s *Supervisor) consume(proc *workerProc, stdout interface{ Read([]byte) (int, error) }) {
	defer close(proc.done)

	logger := s.logger.With("session", proc.sessionID, "role", proc.role)
	sawEvent := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Debug("non-event output", "line", line)
			continue
		}
		if !sawEvent {
			sawEvent = true
			s.markWorking(proc.sessionID)
		}
		switch ev.Type {
		case "result":
			logger.Info("worker result", "message", ev.Message)
		case "error":
			logger.Error("worker error", "message", ev.Message)
			proc.fail(ev.Message)
		default:
			logger.Debug("worker event", "type", ev.Type, "tool", ev.Tool)
		}
	}

	waitErr := proc.cmd.Wait()
	failed, lastErr := proc.failure()
	if waitErr != nil && !failed {
		failed = true
		lastErr = waitErr.Error()
	}

	if failed {
		logger.Warn("worker ended with failure", "error", lastErr)
		s.finalize(proc.sessionID, store.SessionFailed, lastErr)
	} else {
		logger.Info("worker drained")
		s.finalize(proc.sessionID, store.SessionDone, "")
	}
	s.remove(proc.sessionID)
}

func (s *Supervisor) markWorking(sessionID string) {
	err := s.store.UpdateSessionStatus(sessionID, func(status *store.SessionStatus) error {
		if status.State == store.SessionStarting {
			status.State = store.SessionWorking
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Debug("session status update failed", "session", sessionID)
	}
}

func (s *Supervisor) finalize(sessionID string, state store.SessionState, errMsg string) {
	err := s.store.UpdateSessionStatus(sessionID, func(status *store.SessionStatus) error {
		status.State = state
		status.Error = errMsg
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Debug("session finalize failed", "session", sessionID)
	}
}
