package flowtrace

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
)

// Completer is the minimal LLM surface the tracer needs
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*([\\[{].*?[\\]}])\\s*```")

func extractJSON(response string) string {
	if m := jsonBlockRe.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	return strings.TrimSpace(response)
}

// NewLLMDeriver derives flows by asking the model to enumerate the
// end-to-end user flows a diff touches.
func NewLLMDeriver(client Completer) Deriver {
	return func(ctx context.Context, diff string, changedFiles []string) ([]Flow, error) {
		prompt := fmt.Sprintf(`Identify the end-to-end user flows affected by this change.
Return at most %d flows as a JSON array of objects with fields:
id (stable slug), name, description, entry_points, actors, edge_cases.
Respond with only the JSON array.

Changed files:
%s

Diff:
%s`, MaxFlows, strings.Join(changedFiles, "\n"), diff)

		response, err := client.Complete(ctx, prompt)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeTraceSubtask, "derive flows", err)
		}
		var flows []Flow
		if err := json.Unmarshal([]byte(extractJSON(response)), &flows); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeTraceSubtask, "parse derived flows", err)
		}
		return flows, nil
	}
}

// llmFinding is the subtask's wire shape before severity normalization
type llmFinding struct {
	Severity      string `json:"severity"`
	Actor         string `json:"actor"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	FilePath      string `json:"file_path"`
	Line          int    `json:"line"`
	CrossBoundary bool   `json:"cross_boundary"`
	EdgeCase      string `json:"edge_case"`
}

// NewLLMSubtask traces one flow read-only through the model
func NewLLMSubtask(client Completer) Subtask {
	return func(ctx context.Context, flow Flow, diff string) ([]Finding, error) {
		prompt := fmt.Sprintf(`Trace the flow %q (%s) end to end through this diff, read-only.
Actors: %s. Edge cases to check: %s.
Report problems as a JSON array of objects with fields:
severity (critical|high|medium|low), actor, title, description,
file_path, line, cross_boundary, edge_case.
Respond with only the JSON array; an empty array means no findings.

Diff:
%s`, flow.Name, flow.Description, strings.Join(flow.Actors, ", "), strings.Join(flow.EdgeCases, ", "), diff)

		response, err := client.Complete(ctx, prompt)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeTraceSubtask, "trace flow "+flow.ID, err)
		}
		var raw []llmFinding
		if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeTraceSubtask, "parse findings for "+flow.ID, err)
		}
		out := make([]Finding, 0, len(raw))
		for _, f := range raw {
			out = append(out, Finding{
				Severity:      normalizeSeverity(f.Severity),
				Actor:         f.Actor,
				Title:         f.Title,
				Description:   f.Description,
				FilePath:      f.FilePath,
				Line:          f.Line,
				CrossBoundary: f.CrossBoundary,
				EdgeCase:      f.EdgeCase,
			})
		}
		return out, nil
	}
}

func normalizeSeverity(s string) issues.Severity {
	switch issues.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case issues.SeverityCritical:
		return issues.SeverityCritical
	case issues.SeverityHigh:
		return issues.SeverityHigh
	case issues.SeverityMedium:
		return issues.SeverityMedium
	default:
		return issues.SeverityLow
	}
}
