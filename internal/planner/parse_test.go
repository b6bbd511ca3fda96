package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

const samplePlan = "# Plan\n\nBuild login.\n\n```json\n" + `{
  "tasks": [
    {"subject": "User schema", "description": "users table", "task_type": "database", "risk_level": "medium"},
    {"subject": "Login endpoint", "description": "POST /login", "task_type": "backend_api", "risk_level": "high",
     "depends_on_subjects": ["User schema"]},
    {"subject": "Login form", "description": "UI", "task_type": "frontend_ui", "risk_level": "low",
     "depends_on_subjects": ["Login endpoint", "Nonexistent thing"]}
  ]
}` + "\n```\n"

func TestParsePlanExtractsTasks(t *testing.T) {
	plan, err := ParsePlan(samplePlan)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, "User schema", plan.Tasks[0].Subject)
	assert.Equal(t, []string{"User schema"}, plan.Tasks[1].DependsOnSubjects)
}

func TestParsePlanNoTaskBlockIsFatal(t *testing.T) {
	_, err := ParsePlan("# Plan\n\nJust prose, no tasks.")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodePlanNoTasks, cerrors.CodeOf(err))
}

func TestParsePlanBadJSON(t *testing.T) {
	_, err := ParsePlan("```json\n{\"tasks\": [{]}\n```")
	require.Error(t, err)
	// Regex requires a tasks object; broken brace content fails either as
	// no-block or as bad JSON depending on shape. Both are plan errors.
	code := cerrors.CodeOf(err)
	assert.Contains(t, []cerrors.ErrorCode{cerrors.ErrCodePlanNoTasks, cerrors.ErrCodePlanParse}, code)
}

func TestDeriveTasksResolvesDependencies(t *testing.T) {
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "f", MaxCycles: 3, Concurrency: 2})
	require.NoError(t, err)

	plan, err := ParsePlan(samplePlan)
	require.NoError(t, err)

	tasks, err := DeriveTasks(s, plan, log.Default())
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "task-001", tasks[0].ID)
	assert.Equal(t, store.TaskTypeDatabase, tasks[0].Type)
	assert.Equal(t, store.RiskMedium, tasks[0].RiskLevel)

	assert.Equal(t, []string{"task-001"}, tasks[1].DependsOn)

	// The unresolved subject was dropped, leaving one real dependency.
	assert.Equal(t, []string{"task-002"}, tasks[2].DependsOn)

	// Reverse edges recorded.
	schema, err := s.GetTask("task-001")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-002"}, schema.Blocks)
}

func TestDeriveTasksNormalizesUnknownEnums(t *testing.T) {
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "f"})
	require.NoError(t, err)

	plan := &Plan{Tasks: []TaskSpec{{Subject: "x", TaskType: "mystery", RiskLevel: "extreme"}}}
	tasks, err := DeriveTasks(s, plan, log.Default())
	require.NoError(t, err)
	assert.Equal(t, store.TaskTypeGeneral, tasks[0].Type)
	assert.Equal(t, store.RiskLow, tasks[0].RiskLevel)
}
