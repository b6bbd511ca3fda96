package engine

import (
	"fmt"
	"regexp"

	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// resolvesRe links a completed fix task back to the registry entry it
// addresses; the id is embedded in the task description at synthesis time.
var resolvesRe = regexp.MustCompile(`resolves known issue (ki-\d+)`)

// synthesizeFixTasks creates one security task per critical or high flow
// finding. Each fix task's description names the known-issue id so the
// checkpoint that sees it completed can mark the issue addressed.
func synthesizeFixTasks(s *store.Store, registry *issues.Registry, report *flowtrace.Report, logger *log.Logger) ([]*store.Task, error) {
	unresolved, err := registry.Unresolved()
	if err != nil {
		return nil, err
	}
	idByKey := make(map[string]string, len(unresolved))
	for _, issue := range unresolved {
		idByKey[issues.DedupKey(issue.FilePath, issue.Description)] = issue.ID
	}

	var created []*store.Task
	for _, finding := range report.Findings {
		if finding.Severity != issues.SeverityCritical && finding.Severity != issues.SeverityHigh {
			continue
		}
		desc := finding.Title
		if finding.Description != "" {
			desc = finding.Title + ": " + finding.Description
		}
		issueID := idByKey[issues.DedupKey(finding.FilePath, desc)]

		location := finding.FilePath
		if finding.Line > 0 {
			location = fmt.Sprintf("%s:%d", finding.FilePath, finding.Line)
		}
		risk := store.RiskMedium
		if finding.Severity == issues.SeverityCritical {
			risk = store.RiskHigh
		}

		description := fmt.Sprintf("Fix the %s flow-tracing finding at %s: %s", finding.Severity, location, desc)
		if issueID != "" {
			description += fmt.Sprintf("\n\nThis resolves known issue %s.", issueID)
		}

		id, err := s.NextTaskID()
		if err != nil {
			return nil, err
		}
		task, err := s.CreateTask(store.TaskDef{
			Subject:            fmt.Sprintf("Fix: %s", finding.Title),
			Description:        description,
			Type:               store.TaskTypeSecurity,
			RiskLevel:          risk,
			AcceptanceCriteria: []string{"the finding is resolved"},
		}, id, nil)
		if err != nil {
			return nil, err
		}
		created = append(created, task)
		logger.Info("fix task created", "task", task.ID, "severity", finding.Severity, "file", finding.FilePath)
	}
	return created, nil
}

// markResolvedIssues scans completed tasks for resolves-markers and flags
// the referenced registry entries as addressed in the given cycle.
func markResolvedIssues(s *store.Store, registry *issues.Registry, cycle int) error {
	completed, err := s.ListTasks(store.TaskCompleted)
	if err != nil {
		return err
	}
	var ids []string
	for _, task := range completed {
		for _, m := range resolvesRe.FindAllStringSubmatch(task.Description, -1) {
			ids = append(ids, m[1])
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return registry.MarkAddressed(ids, cycle)
}
