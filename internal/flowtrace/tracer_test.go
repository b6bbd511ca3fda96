package flowtrace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
)

func TestDedupKeepsHigherSeverity(t *testing.T) {
	in := []Finding{
		{Severity: issues.SeverityMedium, Title: "Unchecked redirect target", FilePath: "app/auth.ts"},
		{Severity: issues.SeverityCritical, Title: "UNCHECKED redirect target", FilePath: "app/auth.ts"},
		{Severity: issues.SeverityLow, Title: "Unchecked redirect target", FilePath: "app/other.ts"},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Equal(t, issues.SeverityCritical, out[0].Severity)
	assert.Equal(t, "app/auth.ts", out[0].FilePath)
}

func TestDedupKeyTruncatesTitleAt60(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	a := Finding{Severity: issues.SeverityLow, Title: long, FilePath: "f"}
	b := Finding{Severity: issues.SeverityHigh, Title: long[:60] + "different tail", FilePath: "f"}
	out := Dedup([]Finding{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, issues.SeverityHigh, out[0].Severity)
}

func TestTraceBoundsParallelism(t *testing.T) {
	flows := make([]Flow, 8)
	for i := range flows {
		flows[i] = Flow{ID: fmt.Sprintf("flow-%d", i), Name: fmt.Sprintf("Flow %d", i)}
	}
	derive := func(ctx context.Context, diff string, files []string) ([]Flow, error) {
		return flows, nil
	}

	var current, peak atomic.Int64
	var mu sync.Mutex
	subtask := func(ctx context.Context, flow Flow, diff string) ([]Finding, error) {
		n := current.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return []Finding{{Severity: issues.SeverityLow, Title: "finding " + flow.ID, FilePath: flow.ID + ".go"}}, nil
	}

	tr := New(derive, subtask, log.Default())
	report, err := tr.Trace(context.Background(), 1, "diff", nil)
	require.NoError(t, err)
	assert.Len(t, report.Findings, 8)
	assert.LessOrEqual(t, peak.Load(), int64(MaxConcurrent))
}

func TestTraceTruncatesFlowsAndTagsFindings(t *testing.T) {
	flows := make([]Flow, 12)
	for i := range flows {
		flows[i] = Flow{ID: fmt.Sprintf("flow-%d", i)}
	}
	derive := func(ctx context.Context, diff string, files []string) ([]Flow, error) {
		return flows, nil
	}
	subtask := func(ctx context.Context, flow Flow, diff string) ([]Finding, error) {
		return []Finding{{Severity: issues.SeverityMedium, Title: "t-" + flow.ID, FilePath: flow.ID}}, nil
	}

	tr := New(derive, subtask, log.Default())
	report, err := tr.Trace(context.Background(), 2, "diff", nil)
	require.NoError(t, err)
	assert.Len(t, report.Flows, MaxFlows)
	for _, f := range report.Findings {
		assert.NotEmpty(t, f.FlowID)
	}
}

func TestTraceSubtaskFailureLosesOnlyItsFindings(t *testing.T) {
	derive := func(ctx context.Context, diff string, files []string) ([]Flow, error) {
		return []Flow{{ID: "good"}, {ID: "bad"}}, nil
	}
	subtask := func(ctx context.Context, flow Flow, diff string) ([]Finding, error) {
		if flow.ID == "bad" {
			return nil, fmt.Errorf("model refused")
		}
		return []Finding{{Severity: issues.SeverityHigh, Title: "kept", FilePath: "a.go", CrossBoundary: true}}, nil
	}

	tr := New(derive, subtask, log.Default())
	report, err := tr.Trace(context.Background(), 3, "diff", nil)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, 1, report.Summary.High)
	assert.Equal(t, 1, report.Summary.CrossBoundary)
}

func TestReportKnownIssues(t *testing.T) {
	r := &Report{Findings: []Finding{
		{Severity: issues.SeverityCritical, Title: "IDOR", Description: "order id not scoped", FilePath: "api/orders.ts"},
	}}
	entrants := r.KnownIssues()
	require.Len(t, entrants, 1)
	assert.Equal(t, issues.SourceFlowTracing, entrants[0].Source)
	assert.Equal(t, "IDOR: order id not scoped", entrants[0].Description)
}
