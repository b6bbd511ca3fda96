package coord

import (
	"fmt"
	"time"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// Claim performs the atomic task claim. Under the task's exclusive lock it
// rereads the task, verifies it is pending, rereads every dependency and
// verifies completion, then flips to in_progress with the caller as owner
// and persists before the lock releases. Two sessions can never both
// observe success for the same task.
func Claim(s *store.Store, sessionID, taskID string) (*ClaimTaskResponse, error) {
	resp := &ClaimTaskResponse{}
	var depIDs []string

	err := s.UpdateTask(taskID, func(task *store.Task) error {
		if task.Status != store.TaskPending {
			return cerrors.Newf(cerrors.ErrCodeClaimWrongStatus, "not pending (current: %s)", task.Status)
		}
		for _, dep := range task.DependsOn {
			depTask, err := s.GetTask(dep)
			if err != nil {
				return cerrors.Wrap(cerrors.ErrCodeClaimBlockedByDep,
					fmt.Sprintf("dependency %s unreadable", dep), err)
			}
			if depTask.Status != store.TaskCompleted {
				return cerrors.Newf(cerrors.ErrCodeClaimBlockedByDep,
					"blocked by unresolved dependency %s (status: %s)", dep, depTask.Status)
			}
		}
		now := time.Now().UTC()
		task.Status = store.TaskInProgress
		task.Owner = sessionID
		task.StartedAt = &now

		snapshot := *task
		resp.Task = &snapshot
		depIDs = task.DependsOn
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Context assembly happens after the claim commits; it is advisory and
	// must not extend the critical section.
	for _, dep := range depIDs {
		depTask, err := s.GetTask(dep)
		if err != nil {
			continue
		}
		resp.DependencyContext = append(resp.DependencyContext, DependencyContext{
			TaskID:        depTask.ID,
			Subject:       depTask.Subject,
			ResultSummary: depTask.ResultSummary,
			FilesChanged:  depTask.FilesChanged,
		})
	}
	inProgress, err := s.ListTasks(store.TaskInProgress)
	if err == nil {
		for _, sibling := range inProgress {
			if sibling.ID == taskID {
				continue
			}
			resp.InProgressSiblings = append(resp.InProgressSiblings, SiblingInfo{
				TaskID:  sibling.ID,
				Subject: sibling.Subject,
				Owner:   sibling.Owner,
			})
		}
	}
	if contracts, err := s.ListContracts("", ""); err == nil {
		resp.Contracts = contracts
	}
	if decisions, err := s.ListDecisions(""); err == nil {
		resp.Decisions = decisions
	}
	if resp.Task.RiskLevel == store.RiskHigh {
		resp.Warnings = append(resp.Warnings,
			"this task is rated high risk; follow its security requirements exactly")
	}
	return resp, nil
}

// Complete marks a task completed. Only the current owner may complete it.
func Complete(s *store.Store, sessionID string, req CompleteTaskRequest) (*store.Task, error) {
	var snapshot *store.Task
	err := s.UpdateTask(req.TaskID, func(task *store.Task) error {
		if task.Status != store.TaskInProgress || task.Owner != sessionID {
			return cerrors.Newf(cerrors.ErrCodeNotTaskOwner,
				"task %s is not owned by %s (status: %s, owner: %s)",
				req.TaskID, sessionID, task.Status, task.Owner)
		}
		now := time.Now().UTC()
		task.Status = store.TaskCompleted
		task.ResultSummary = req.Summary
		task.FilesChanged = req.FilesChanged
		task.CompletedAt = &now
		copied := *task
		snapshot = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
