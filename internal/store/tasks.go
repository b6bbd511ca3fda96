package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// TaskDef is the planner-facing shape of a task before it gets an id
type TaskDef struct {
	Subject                 string
	Description             string
	Type                    TaskType
	RiskLevel               RiskLevel
	SecurityRequirements    []string
	PerformanceRequirements []string
	AcceptanceCriteria      []string
}

// NextTaskID allocates the next monotone task id under the state lock.
// Ids are zero-padded so lexical order equals creation order.
func (s *Store) NextTaskID() (string, error) {
	var id string
	_, err := s.MutateState(func(state *RunState) error {
		state.TaskCounter++
		id = fmt.Sprintf("task-%03d", state.TaskCounter)
		return nil
	})
	return id, err
}

// CreateTask writes a new pending Task and appends its id to each
// dependency's blocks list. The reverse-edge update goes through UpdateTask
// so it is linearized against concurrent claims of the dependency.
func (s *Store) CreateTask(def TaskDef, id string, dependsOn []string) (*Task, error) {
	task := &Task{
		ID:                      id,
		Subject:                 def.Subject,
		Description:             def.Description,
		Status:                  TaskPending,
		DependsOn:               dependsOn,
		Type:                    def.Type,
		RiskLevel:               def.RiskLevel,
		SecurityRequirements:    def.SecurityRequirements,
		PerformanceRequirements: def.PerformanceRequirements,
		AcceptanceCriteria:      def.AcceptanceCriteria,
		CreatedAt:               time.Now().UTC(),
	}
	if task.Type == "" {
		task.Type = TaskTypeGeneral
	}
	if task.RiskLevel == "" {
		task.RiskLevel = RiskLow
	}

	path := s.taskPath(id)
	if err := s.withLock(path, func() error {
		return writeJSONAtomic(path, task)
	}); err != nil {
		return nil, err
	}

	for _, dep := range dependsOn {
		if err := s.UpdateTask(dep, func(t *Task) error {
			for _, b := range t.Blocks {
				if b == id {
					return nil
				}
			}
			t.Blocks = append(t.Blocks, id)
			return nil
		}); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStatePersist,
				fmt.Sprintf("record reverse edge on %s", dep), err)
		}
	}
	return task, nil
}

// GetTask returns a snapshot of one task
func (s *Store) GetTask(id string) (*Task, error) {
	var task Task
	if err := readJSON(s.taskPath(id), &task); err != nil {
		if os.IsNotExist(underlying(err)) {
			return nil, errors.Newf(errors.ErrCodeTaskNotFound, "task %s does not exist", id)
		}
		return nil, err
	}
	return &task, nil
}

// ListTasks returns a snapshot of all tasks, ordered by id, optionally
// filtered by status. An empty filter returns everything.
func (s *Store) ListTasks(statusFilter TaskStatus) ([]*Task, error) {
	dir := filepath.Join(s.root, "tasks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read tasks directory", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		var task Task
		if err := readJSON(filepath.Join(dir, name), &task); err != nil {
			// A reader racing a rename can transiently miss; skip and move on.
			if os.IsNotExist(underlying(err)) {
				continue
			}
			return nil, err
		}
		if statusFilter != "" && task.Status != statusFilter {
			continue
		}
		tasks = append(tasks, &task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UpdateTask holds the task's exclusive lock for the duration of mutation,
// rereads from disk inside the lock, applies fn, and publishes atomically.
func (s *Store) UpdateTask(id string, fn func(*Task) error) error {
	path := s.taskPath(id)
	return s.withLock(path, func() error {
		var task Task
		if err := readJSON(path, &task); err != nil {
			if os.IsNotExist(underlying(err)) {
				return errors.Newf(errors.ErrCodeTaskNotFound, "task %s does not exist", id)
			}
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		return writeJSONAtomic(path, &task)
	})
}

// ResetOrphans resets every in_progress task whose owner is not in the
// active session set back to pending, and returns how many were reset.
func (s *Store) ResetOrphans(active map[string]bool) (int, error) {
	tasks, err := s.ListTasks(TaskInProgress)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, task := range tasks {
		if active[task.Owner] {
			continue
		}
		id := task.ID
		err := s.UpdateTask(id, func(t *Task) error {
			// Recheck inside the lock; the owner may have completed it
			// between our snapshot and now.
			if t.Status != TaskInProgress || active[t.Owner] {
				return nil
			}
			t.Status = TaskPending
			t.Owner = ""
			t.StartedAt = nil
			reset++
			return nil
		})
		if err != nil {
			return reset, err
		}
	}
	return reset, nil
}

func (s *Store) taskPath(id string) string {
	return filepath.Join(s.root, "tasks", id+".json")
}
