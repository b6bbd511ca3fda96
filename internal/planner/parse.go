package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// TaskSpec is one task as declared in the plan's fenced JSON block
type TaskSpec struct {
	Subject                 string   `json:"subject"`
	Description             string   `json:"description"`
	TaskType                string   `json:"task_type"`
	RiskLevel               string   `json:"risk_level"`
	DependsOnSubjects       []string `json:"depends_on_subjects"`
	SecurityRequirements    []string `json:"security_requirements"`
	PerformanceRequirements []string `json:"performance_requirements"`
	AcceptanceCriteria      []string `json:"acceptance_criteria"`
}

// Plan is a parsed planner response: the full markdown plus the task block
type Plan struct {
	Markdown string
	Tasks    []TaskSpec
}

var taskBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{\\s*\"tasks\".*?\\})\\s*```")

// ParsePlan extracts the task block from a planner response. The planner
// producing no task block is fatal for the cycle.
func ParsePlan(response string) (*Plan, error) {
	m := taskBlockRe.FindStringSubmatch(response)
	if m == nil {
		return nil, cerrors.New(cerrors.ErrCodePlanNoTasks, "planner response contains no task block").
			WithSuggestion("inspect the saved plan markdown for what the planner produced")
	}
	var block struct {
		Tasks []TaskSpec `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(m[1]), &block); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodePlanParse, "task block is not valid JSON", err)
	}
	if len(block.Tasks) == 0 {
		return nil, cerrors.New(cerrors.ErrCodePlanNoTasks, "planner task block is empty")
	}
	return &Plan{Markdown: response, Tasks: block.Tasks}, nil
}

// DeriveTasks creates Task records from a plan: monotone ids in declaration
// order, depends_on_subjects resolved to ids. Unresolved subjects are
// dropped with a warning rather than failing the plan.
func DeriveTasks(s *store.Store, plan *Plan, logger *log.Logger) ([]*store.Task, error) {
	idBySubject := make(map[string]string, len(plan.Tasks))
	ids := make([]string, len(plan.Tasks))
	for i, spec := range plan.Tasks {
		id, err := s.NextTaskID()
		if err != nil {
			return nil, err
		}
		ids[i] = id
		idBySubject[normalizeSubject(spec.Subject)] = id
	}

	var created []*store.Task
	for i, spec := range plan.Tasks {
		var deps []string
		for _, subject := range spec.DependsOnSubjects {
			dep, ok := idBySubject[normalizeSubject(subject)]
			if !ok {
				logger.Warn("dropping unresolved dependency subject",
					"task", spec.Subject, "depends_on", subject)
				continue
			}
			if dep == ids[i] {
				logger.Warn("dropping self-dependency", "task", spec.Subject)
				continue
			}
			deps = append(deps, dep)
		}
		task, err := s.CreateTask(store.TaskDef{
			Subject:                 spec.Subject,
			Description:             spec.Description,
			Type:                    taskType(spec.TaskType),
			RiskLevel:               riskLevel(spec.RiskLevel),
			SecurityRequirements:    spec.SecurityRequirements,
			PerformanceRequirements: spec.PerformanceRequirements,
			AcceptanceCriteria:      spec.AcceptanceCriteria,
		}, ids[i], deps)
		if err != nil {
			return nil, err
		}
		created = append(created, task)
	}
	return created, nil
}

func normalizeSubject(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func taskType(s string) store.TaskType {
	switch store.TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case store.TaskTypeBackendAPI, store.TaskTypeFrontendUI, store.TaskTypeDatabase,
		store.TaskTypeSecurity, store.TaskTypeTesting, store.TaskTypeInfrastructure:
		return store.TaskType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return store.TaskTypeGeneral
	}
}

func riskLevel(s string) store.RiskLevel {
	switch store.RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case store.RiskMedium:
		return store.RiskMedium
	case store.RiskHigh:
		return store.RiskHigh
	default:
		return store.RiskLow
	}
}
