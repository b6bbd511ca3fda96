// Package flowtrace derives end-to-end user flows from a diff and runs one
// read-only tracing subtask per flow in bounded parallel. Findings are
// deduplicated by file and title prefix, keeping the higher severity.
package flowtrace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
)

// Limits on flow derivation and dispatch
const (
	MaxFlows      = 8
	MaxConcurrent = 3
)

// Flow is one end-to-end user flow worth tracing
type Flow struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	EntryPoints []string `json:"entry_points,omitempty"`
	Actors      []string `json:"actors,omitempty"`
	EdgeCases   []string `json:"edge_cases,omitempty"`
}

// Finding is one severity-tagged observation from a tracing subtask
type Finding struct {
	Severity      issues.Severity `json:"severity"`
	Actor         string          `json:"actor,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	FilePath      string          `json:"file_path,omitempty"`
	Line          int             `json:"line,omitempty"`
	CrossBoundary bool            `json:"cross_boundary"`
	EdgeCase      string          `json:"edge_case,omitempty"`
	FlowID        string          `json:"flow_id"`
}

// Summary aggregates a report's findings
type Summary struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	CrossBoundary int `json:"cross_boundary"`
}

// Report is the per-cycle tracing output
type Report struct {
	Cycle       int       `json:"cycle"`
	GeneratedAt time.Time `json:"generated_at"`
	Flows       []Flow    `json:"flows"`
	Findings    []Finding `json:"findings"`
	Summary     Summary   `json:"summary"`
}

// Deriver turns a diff and changed-file list into flows to trace
type Deriver func(ctx context.Context, diff string, changedFiles []string) ([]Flow, error)

// Subtask traces one flow read-only and returns its findings
type Subtask func(ctx context.Context, flow Flow, diff string) ([]Finding, error)

// Tracer orchestrates derivation and bounded-parallel subtask dispatch
type Tracer struct {
	derive  Deriver
	subtask Subtask
	logger  *log.Logger
}

// New creates a Tracer
func New(derive Deriver, subtask Subtask, logger *log.Logger) *Tracer {
	return &Tracer{derive: derive, subtask: subtask, logger: logger}
}

// Trace runs the full pipeline for one cycle. Subtasks run under a sliding
// window of MaxConcurrent: as soon as one settles the next starts, so long
// traces don't starve short ones. A failed subtask loses only its own
// findings.
func (t *Tracer) Trace(ctx context.Context, cycle int, diff string, changedFiles []string) (*Report, error) {
	flows, err := t.derive(ctx, diff, changedFiles)
	if err != nil {
		return nil, err
	}
	if len(flows) > MaxFlows {
		t.logger.Warn("deriver returned too many flows, truncating", "derived", len(flows), "cap", MaxFlows)
		flows = flows[:MaxFlows]
	}

	results := make([][]Finding, len(flows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrent)
	for i, flow := range flows {
		g.Go(func() error {
			findings, err := t.subtask(gctx, flow, diff)
			if err != nil {
				t.logger.WithError(err).Warn("tracing subtask failed", "flow", flow.ID)
				return nil
			}
			for j := range findings {
				findings[j].FlowID = flow.ID
			}
			results[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Finding
	for _, findings := range results {
		all = append(all, findings...)
	}
	deduped := Dedup(all)

	report := &Report{
		Cycle:       cycle,
		GeneratedAt: time.Now().UTC(),
		Flows:       flows,
		Findings:    deduped,
	}
	for _, f := range deduped {
		switch f.Severity {
		case issues.SeverityCritical:
			report.Summary.Critical++
		case issues.SeverityHigh:
			report.Summary.High++
		case issues.SeverityMedium:
			report.Summary.Medium++
		default:
			report.Summary.Low++
		}
		if f.CrossBoundary {
			report.Summary.CrossBoundary++
		}
	}
	return report, nil
}

// severityRank orders severities for dedup collisions
var severityRank = map[issues.Severity]int{
	issues.SeverityCritical: 3,
	issues.SeverityHigh:     2,
	issues.SeverityMedium:   1,
	issues.SeverityLow:      0,
}

// dedupKey is the collision key: file path plus the lowercased first 60
// characters of the title.
func dedupKey(f Finding) string {
	title := strings.ToLower(f.Title)
	if len(title) > 60 {
		title = title[:60]
	}
	return f.FilePath + "::" + title
}

// Dedup collapses findings sharing a key, retaining the higher severity.
// Output order is deterministic: descending severity, then file, then title.
func Dedup(findings []Finding) []Finding {
	byKey := make(map[string]Finding)
	for _, f := range findings {
		key := dedupKey(f)
		if prev, ok := byKey[key]; ok && severityRank[prev.Severity] >= severityRank[f.Severity] {
			continue
		}
		byKey[key] = f
	}
	out := make([]Finding, 0, len(byKey))
	for _, f := range byKey {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if severityRank[out[i].Severity] != severityRank[out[j].Severity] {
			return severityRank[out[i].Severity] > severityRank[out[j].Severity]
		}
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// HumanSummary renders a terminal-friendly digest of the report
func (r *Report) HumanSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Flow tracing, cycle %d: %d flows, %d findings\n", r.Cycle, len(r.Flows), len(r.Findings))
	fmt.Fprintf(&b, "  critical=%d high=%d medium=%d low=%d cross-boundary=%d\n",
		r.Summary.Critical, r.Summary.High, r.Summary.Medium, r.Summary.Low, r.Summary.CrossBoundary)
	for _, f := range r.Findings {
		loc := f.FilePath
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.FilePath, f.Line)
		}
		fmt.Fprintf(&b, "  [%s] %s (%s)\n", f.Severity, f.Title, loc)
	}
	return b.String()
}

// KnownIssues converts findings into registry entrants
func (r *Report) KnownIssues() []issues.KnownIssue {
	out := make([]issues.KnownIssue, 0, len(r.Findings))
	for _, f := range r.Findings {
		desc := f.Title
		if f.Description != "" {
			desc = f.Title + ": " + f.Description
		}
		out = append(out, issues.KnownIssue{
			Description: desc,
			Severity:    f.Severity,
			Source:      issues.SourceFlowTracing,
			FilePath:    f.FilePath,
		})
	}
	return out
}
