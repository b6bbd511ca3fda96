package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

func mustCreateTask(t *testing.T, s *Store, def TaskDef, deps ...string) *Task {
	t.Helper()
	id, err := s.NextTaskID()
	require.NoError(t, err)
	task, err := s.CreateTask(def, id, deps)
	require.NoError(t, err)
	return task
}

func TestCreateTaskRecordsReverseEdges(t *testing.T) {
	s := newTestStore(t)

	a := mustCreateTask(t, s, TaskDef{Subject: "schema", Type: TaskTypeDatabase})
	b := mustCreateTask(t, s, TaskDef{Subject: "api", Type: TaskTypeBackendAPI}, a.ID)
	c := mustCreateTask(t, s, TaskDef{Subject: "ui", Type: TaskTypeFrontendUI}, a.ID, b.ID)

	got, err := s.GetTask(a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b.ID, c.ID}, got.Blocks)

	gotB, err := s.GetTask(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, gotB.Blocks)
	assert.Equal(t, []string{a.ID}, gotB.DependsOn)
}

func TestGetTaskMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("task-999")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTaskNotFound, errors.CodeOf(err))
}

func TestListTasksOrderAndFilter(t *testing.T) {
	s := newTestStore(t)

	mustCreateTask(t, s, TaskDef{Subject: "one"})
	b := mustCreateTask(t, s, TaskDef{Subject: "two"})
	mustCreateTask(t, s, TaskDef{Subject: "three"})

	require.NoError(t, s.UpdateTask(b.ID, func(task *Task) error {
		task.Status = TaskCompleted
		return nil
	}))

	all, err := s.ListTasks("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "task-001", all[0].ID)
	assert.Equal(t, "task-003", all[2].ID)

	pending, err := s.ListTasks(TaskPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// Two goroutines race a claim-style update on one task; the lock plus
// reread-inside-lock must let exactly one of them through.
func TestConcurrentClaimStyleUpdate(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, TaskDef{Subject: "contested"})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, owner := range []string{"session-001", "session-002"} {
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			results[i] = s.UpdateTask(task.ID, func(t *Task) error {
				if t.Status != TaskPending {
					return errors.Newf(errors.ErrCodeClaimWrongStatus, "not pending (current: %s)", t.Status)
				}
				now := time.Now().UTC()
				t.Status = TaskInProgress
				t.Owner = owner
				t.StartedAt = &now
				return nil
			})
		}(i, owner)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.Equal(t, errors.ErrCodeClaimWrongStatus, errors.CodeOf(err))
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)
	assert.Contains(t, []string{"session-001", "session-002"}, got.Owner)
	require.NotNil(t, got.StartedAt)
}

func TestResetOrphans(t *testing.T) {
	s := newTestStore(t)

	orphaned := mustCreateTask(t, s, TaskDef{Subject: "orphaned"})
	owned := mustCreateTask(t, s, TaskDef{Subject: "owned"})
	done := mustCreateTask(t, s, TaskDef{Subject: "done"})

	now := time.Now().UTC()
	for id, owner := range map[string]string{orphaned.ID: "session-001", owned.ID: "session-002"} {
		require.NoError(t, s.UpdateTask(id, func(t *Task) error {
			t.Status = TaskInProgress
			t.Owner = owner
			t.StartedAt = &now
			return nil
		}))
	}
	require.NoError(t, s.UpdateTask(done.ID, func(t *Task) error {
		t.Status = TaskCompleted
		return nil
	}))

	count, err := s.ResetOrphans(map[string]bool{"session-002": true})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetTask(orphaned.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status)
	assert.Empty(t, got.Owner)
	assert.Nil(t, got.StartedAt)

	kept, err := s.GetTask(owned.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, kept.Status)
	assert.Equal(t, "session-002", kept.Owner)
}

func TestTaskRoundTripPreservesFields(t *testing.T) {
	s := newTestStore(t)

	task := mustCreateTask(t, s, TaskDef{
		Subject:              "harden login endpoint",
		Description:          "rate-limit and lock out after 5 failures",
		Type:                 TaskTypeSecurity,
		RiskLevel:            RiskHigh,
		SecurityRequirements: []string{"no user enumeration"},
		AcceptanceCriteria:   []string{"lockout after 5 failed attempts"},
	})

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Subject, got.Subject)
	assert.Equal(t, TaskTypeSecurity, got.Type)
	assert.Equal(t, RiskHigh, got.RiskLevel)
	assert.Equal(t, []string{"no user enumeration"}, got.SecurityRequirements)
	assert.Equal(t, []string{"lockout after 5 failed attempts"}, got.AcceptanceCriteria)
}
