package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/coord"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/supervisor"
)

// TestHelperWorker is not a real test: it is the worker subprocess spawned
// by the engine tests. It claims every pending task through the
// coordination client, completes it, and exits.
func TestHelperWorker(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_WORKER") != "1" {
		t.Skip("helper process only")
	}
	addr := os.Getenv(supervisor.EnvCoordAddr)
	token := os.Getenv(supervisor.EnvToken)
	session := os.Getenv(supervisor.EnvSession)
	client := coord.NewClient(addr, token, session)
	ctx := context.Background()

	for {
		tasks, err := client.ListTasks(ctx, store.TaskPending)
		if err != nil || len(tasks) == 0 {
			break
		}
		claimed := false
		for _, task := range tasks {
			if _, err := client.ClaimTask(ctx, task.ID); err != nil {
				continue
			}
			claimed = true
			_, _ = client.CompleteTask(ctx, task.ID, "done by helper", []string{"src/app.ts"})
			emit(map[string]any{"type": "result", "message": "completed " + task.ID})
		}
		if !claimed {
			break
		}
	}
	os.Exit(0)
}

func emit(event map[string]any) {
	line, _ := json.Marshal(event)
	fmt.Println(string(line))
}

type fakePlanner struct {
	calls atomic.Int64
	tasks int
}

func (p *fakePlanner) Complete(ctx context.Context, prompt string) (string, error) {
	p.calls.Add(1)
	plan := "# Plan\n\n```json\n{\"tasks\": ["
	for i := 0; i < p.tasks; i++ {
		if i > 0 {
			plan += ","
		}
		plan += fmt.Sprintf(`{"subject": "Task %d", "description": "do part %d", "task_type": "general", "risk_level": "low"}`, i+1, i+1)
	}
	return plan + "]}\n```\n", nil
}

func newEngineForTest(t *testing.T, p *fakePlanner, workerCmd []string) (*Engine, *store.Store) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_WORKER", "1")
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "ship the feature", Branch: "conductor/test", MaxCycles: 3, Concurrency: 2})
	require.NoError(t, err)

	cfg := Config{
		Concurrency:   2,
		MaxCycles:     3,
		WorkerCommand: workerCmd,
		PollInterval:  50 * time.Millisecond,
		GraceWindow:   300 * time.Millisecond,
		SkipReviewer:  true,
		SkipFlowTrace: true,
	}
	eng := New(s, p, nil, nil, nil, nil, nil, nil, nil, cfg, log.Default())
	return eng, s
}

func helperWorkerCommand() []string {
	return []string{os.Args[0], "-test.run=TestHelperWorker"}
}

func TestRunSingleCycleHappyPath(t *testing.T) {
	p := &fakePlanner{tasks: 3}
	eng, s := newEngineForTest(t, p, helperWorkerCommand())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, eng.Run(ctx))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, state.Status)
	assert.Equal(t, 1, state.CurrentCycle)
	require.Len(t, state.CycleHistory, 1)
	assert.Equal(t, 3, state.CycleHistory[0].TasksCompleted)
	assert.Equal(t, 0, state.CycleHistory[0].TasksFailed)
	// No plan review ran this cycle, which counts as approved.
	assert.True(t, state.CycleHistory[0].PlanApproved)
	assert.Zero(t, state.CycleHistory[0].PlanRounds)
	assert.Equal(t, int64(1), p.calls.Load())

	completed, err := s.ListTasks(store.TaskCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 3)
}

func TestRunUserPauseThenResumeWithoutReplanning(t *testing.T) {
	p := &fakePlanner{tasks: 1}
	// Workers that never finish force the pause path to interrupt them.
	eng, s := newEngineForTest(t, p, []string{"sleep", "30"})

	// The signal is present before execution starts; the first poll
	// consumes it.
	require.NoError(t, s.RequestPause())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, eng.Run(ctx))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, store.RunPaused, state.Status)
	require.NotNil(t, state.PausedAt)
	require.NotNil(t, state.ResumeAfter)
	assert.False(t, s.PauseRequested(), "signal must be consumed")
	assert.Equal(t, int64(1), p.calls.Load())

	// The sleeping workers never claimed the task, so it is still pending.
	pending, err := s.ListTasks(store.TaskPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Resume: clear the pause, swap in a worker that finishes the task.
	_, err = s.MutateState(func(st *store.RunState) error {
		st.Status = store.RunExecuting
		st.PausedAt = nil
		st.ResumeAfter = nil
		return nil
	})
	require.NoError(t, err)

	eng2 := New(s, p, nil, nil, nil, nil, nil, nil, nil, Config{
		Concurrency:   1,
		MaxCycles:     3,
		WorkerCommand: helperWorkerCommand(),
		PollInterval:  50 * time.Millisecond,
		GraceWindow:   300 * time.Millisecond,
		SkipReviewer:  true,
		SkipFlowTrace: true,
	}, log.Default())
	require.NoError(t, eng2.Run(ctx))

	state, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, state.Status)
	// Resume went straight to execution: the planner ran only once.
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestRunEscalatesAtCycleCap(t *testing.T) {
	p := &fakePlanner{tasks: 1}
	eng, s := newEngineForTest(t, p, helperWorkerCommand())
	_, err := s.MutateState(func(st *store.RunState) error {
		st.CurrentCycle = 3 // already at the cap
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = eng.Run(ctx)
	require.Error(t, err)

	esc, readErr := s.ReadEscalation()
	require.NoError(t, readErr)
	require.NotNil(t, esc)
	assert.Equal(t, []string{"continue", "redirect", "stop"}, esc.Options)

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, store.RunEscalated, state.Status)
}
