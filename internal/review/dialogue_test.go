package review

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/log"
)

func verdictJSON(verdict string, issues ...string) string {
	out := fmt.Sprintf(`{"review_performed": true, "verdict": %q, "issues": [`, verdict)
	for i, issue := range issues {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"description": %q, "severity": "major"}`, issue)
	}
	return out + `], "summary": "s"}`
}

func TestDialogueApprovesAfterDiscussion(t *testing.T) {
	runner := &scriptedRunner{outputs: []string{
		verdictJSON("NEEDS_FIXES", "tighten validation"),
		verdictJSON("APPROVE"),
	}}
	var investigated [][]string
	investigator := func(ctx context.Context, issues []string) (string, error) {
		investigated = append(investigated, issues)
		return "validation now covers all inputs", nil
	}

	d := NewDialogue(NewDriver(runner, log.Default()), investigator, 5, log.Default())
	res, err := d.Run(context.Background(), "review the plan")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, 2, res.Rounds)
	require.Len(t, investigated, 1)
	assert.Equal(t, []string{"[major] tighten validation"}, investigated[0])
}

func TestDialogueStopsAtRoundCap(t *testing.T) {
	outputs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		outputs = append(outputs, verdictJSON("NEEDS_DISCUSSION", fmt.Sprintf("issue %d", i)))
	}
	runner := &scriptedRunner{outputs: outputs}

	d := NewDialogue(NewDriver(runner, log.Default()), nil, 3, log.Default())
	res, err := d.Run(context.Background(), "review")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, 3, res.Rounds)
}

func TestDialogueEscalatesOnRecurrence(t *testing.T) {
	same := "the cache is never invalidated"
	runner := &scriptedRunner{outputs: []string{
		verdictJSON("NEEDS_FIXES", same),
		verdictJSON("NEEDS_FIXES", same),
		verdictJSON("APPROVE"),
	}}

	d := NewDialogue(NewDriver(runner, log.Default()), nil, 5, log.Default())
	res, err := d.Run(context.Background(), "review")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, 2, res.Rounds)
	require.Len(t, res.RecurrentIssues, 1)
	assert.Contains(t, res.RecurrentIssues[0], "cache is never invalidated")
}

func TestDialogueTerminalOutcomesStopLoop(t *testing.T) {
	// Rate-limited mid-dialogue: attempt 1 is a real verdict, round 2's
	// two attempts both fail by execution error.
	runner := &scriptedRunner{outputs: []string{
		verdictJSON("NEEDS_FIXES", "x"),
		"", "",
	}}
	d := NewDialogue(NewDriver(runner, log.Default()), nil, 5, log.Default())
	res, err := d.Run(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, VerdictRateLimited, res.Final.Verdict)
	assert.Equal(t, 2, res.Rounds)
}
