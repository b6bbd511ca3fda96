package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

func newFixtasksEnv(t *testing.T) (*store.Store, *issues.Registry) {
	t.Helper()
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "f", MaxCycles: 5, Concurrency: 2})
	require.NoError(t, err)
	return s, issues.NewRegistry(s.KnownIssuesPath())
}

func TestSynthesizeFixTasksFromSevereFindings(t *testing.T) {
	s, registry := newFixtasksEnv(t)

	report := &flowtrace.Report{Findings: []flowtrace.Finding{
		{Severity: issues.SeverityCritical, Title: "Order access unscoped", Description: "any user can read any order", FilePath: "app/api/x.ts", Line: 42},
		{Severity: issues.SeverityHigh, Title: "Missing rate limit", FilePath: "app/api/login.ts"},
		{Severity: issues.SeverityMedium, Title: "Noisy log", FilePath: "app/log.ts"},
	}}

	// Findings are registered before fix synthesis, as in the review phase.
	_, err := registry.Add(1, report.KnownIssues())
	require.NoError(t, err)

	created, err := synthesizeFixTasks(s, registry, report, log.Default())
	require.NoError(t, err)
	require.Len(t, created, 2)

	critical := created[0]
	assert.Equal(t, store.TaskTypeSecurity, critical.Type)
	assert.Equal(t, store.RiskHigh, critical.RiskLevel)
	assert.Contains(t, critical.Description, "app/api/x.ts:42")
	assert.Contains(t, critical.Description, "resolves known issue ki-001")
	assert.Equal(t, []string{"the finding is resolved"}, critical.AcceptanceCriteria)

	high := created[1]
	assert.Equal(t, store.RiskMedium, high.RiskLevel)
}

func TestMarkResolvedIssuesFromCompletedFixTasks(t *testing.T) {
	s, registry := newFixtasksEnv(t)

	_, err := registry.Add(1, []issues.KnownIssue{
		{Description: "Order access unscoped: any user can read any order", Severity: issues.SeverityCritical, Source: issues.SourceFlowTracing, FilePath: "app/api/x.ts"},
	})
	require.NoError(t, err)

	id, err := s.NextTaskID()
	require.NoError(t, err)
	_, err = s.CreateTask(store.TaskDef{
		Subject:     "Fix: Order access unscoped",
		Description: "Scope order lookups to the caller.\n\nThis resolves known issue ki-001.",
		Type:        store.TaskTypeSecurity,
	}, id, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTask(id, func(task *store.Task) error {
		task.Status = store.TaskCompleted
		return nil
	}))

	require.NoError(t, markResolvedIssues(s, registry, 2))

	list, err := registry.Load()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Addressed)
	require.NotNil(t, list[0].AddressedInCycle)
	assert.Equal(t, 2, *list[0].AddressedInCycle)
}

func TestSynthesizeFixTasksNoSevereFindings(t *testing.T) {
	s, registry := newFixtasksEnv(t)
	report := &flowtrace.Report{Findings: []flowtrace.Finding{
		{Severity: issues.SeverityLow, Title: "nit", FilePath: "a.go"},
	}}
	created, err := synthesizeFixTasks(s, registry, report, log.Default())
	require.NoError(t, err)
	assert.Empty(t, created)
}
