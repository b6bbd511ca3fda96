package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

func newTestSupervisor(t *testing.T, workerCmd []string) (*Supervisor, *store.Store) {
	t.Helper()
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "f", MaxCycles: 3, Concurrency: 2})
	require.NoError(t, err)
	sup := New(s, Config{
		WorkerCommand: workerCmd,
		CoordAddr:     "http://127.0.0.1:0",
		Token:         "tok",
		GraceWindow:   2 * time.Second,
	}, log.Default())
	return sup, s
}

// waitDrained polls until the supervisor has no live workers
func waitDrained(t *testing.T, sup *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sup.ActiveSessions()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workers never drained: %v", sup.ActiveSessions())
}

func TestSpawnAndDrainSuccess(t *testing.T) {
	sup, s := newTestSupervisor(t, []string{"sh", "-c",
		`printf '{"type":"result","message":"done"}\n'`})

	require.NoError(t, sup.SpawnWorkers(context.Background(), 2, &SharedContext{Feature: "f"}))
	assert.Len(t, sup.ActiveSessions(), 2)
	waitDrained(t, sup)

	statuses, err := s.ListSessionStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, status := range statuses {
		assert.Equal(t, store.SessionDone, status.State)
	}

	// Shared context was injected before launch.
	raw, err := s.ReadSessionContext(statuses[0].SessionID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"feature": "f"`)
}

func TestSpawnFailureMarksSessionFailed(t *testing.T) {
	sup, s := newTestSupervisor(t, []string{"sh", "-c",
		`printf '{"type":"error","message":"boom"}\n'; exit 1`})

	require.NoError(t, sup.SpawnWorkers(context.Background(), 1, nil))
	waitDrained(t, sup)

	statuses, err := s.ListSessionStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, store.SessionFailed, statuses[0].State)
	assert.Equal(t, "boom", statuses[0].Error)
}

func TestWaitForAllWorkersGraceTimeout(t *testing.T) {
	sup, _ := newTestSupervisor(t, []string{"sleep", "30"})
	sup.cfg.GraceWindow = 200 * time.Millisecond

	require.NoError(t, sup.SpawnWorkers(context.Background(), 1, nil))
	remaining := sup.WaitForAllWorkers(context.Background())
	assert.Len(t, remaining, 1)
	sup.Kill()
	waitDrained(t, sup)
}

func TestBroadcastWindDown(t *testing.T) {
	sup, s := newTestSupervisor(t, nil)

	resetsAt := time.Now().Add(time.Hour).UTC()
	require.NoError(t, sup.BroadcastWindDown(store.WindDownUsageLimit, &resetsAt))

	msgs, err := s.ReadMessages("session-001", time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.MessageWindDown, msgs[0].Type)
	assert.Equal(t, "usage_limit", msgs[0].Metadata["reason"])
	assert.NotEmpty(t, msgs[0].Metadata["resets_at"])
}

func TestSweepOrphansReclaimsDeadOwners(t *testing.T) {
	sup, s := newTestSupervisor(t, nil)

	id, err := s.NextTaskID()
	require.NoError(t, err)
	_, err = s.CreateTask(store.TaskDef{Subject: "stranded"}, id, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.UpdateTask(id, func(task *store.Task) error {
		task.Status = store.TaskInProgress
		task.Owner = "session-099"
		task.StartedAt = &now
		return nil
	}))

	count, err := sup.SweepOrphans()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	task, err := s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskPending, task.Status)
	assert.Empty(t, task.Owner)
}

func TestActiveSessionsMirroredToRunState(t *testing.T) {
	sup, s := newTestSupervisor(t, []string{"sleep", "5"})

	require.NoError(t, sup.SpawnWorkers(context.Background(), 1, nil))
	state, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, state.ActiveSessions, 1)

	sup.Kill()
	waitDrained(t, sup)
	state, err = s.Load()
	require.NoError(t, err)
	assert.Empty(t, state.ActiveSessions)
}
