package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/clpotvin/claude-code-conductor/internal/log"
)

// DefaultMaxRounds bounds each dialogue loop
const DefaultMaxRounds = 5

// recurrenceEscalationCount is how many repeats of the same issue key
// trigger an escalation to the user.
const recurrenceEscalationCount = 2

// Investigator produces a response document for the reviewer's issues,
// fed back into the next round.
type Investigator func(ctx context.Context, issues []string) (string, error)

// DialogueResult summarizes a multi-round review dialogue
type DialogueResult struct {
	Final           *Result
	Rounds          int
	Approved        bool
	RecurrentIssues []string
}

// Dialogue runs a plan- or code-review conversation: review, investigate,
// feed the response back, repeat until APPROVE, a terminal outcome, or the
// round cap.
type Dialogue struct {
	driver       *Driver
	investigator Investigator
	maxRounds    int
	logger       *log.Logger
}

// NewDialogue creates a dialogue loop over the driver
func NewDialogue(driver *Driver, investigator Investigator, maxRounds int, logger *log.Logger) *Dialogue {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Dialogue{driver: driver, investigator: investigator, maxRounds: maxRounds, logger: logger}
}

// Run executes the dialogue. basePrompt is re-sent every round with the
// investigator's latest response document appended.
func (d *Dialogue) Run(ctx context.Context, basePrompt string) (*DialogueResult, error) {
	out := &DialogueResult{}
	recurrence := map[string]int{}
	prompt := basePrompt

	for round := 1; round <= d.maxRounds; round++ {
		out.Rounds = round
		result, err := d.driver.Review(ctx, prompt)
		if err != nil {
			return out, err
		}
		out.Final = result

		switch result.Verdict {
		case VerdictApprove:
			out.Approved = true
			return out, nil
		case VerdictError, VerdictRateLimited:
			return out, nil
		}

		for _, issue := range result.Issues {
			key := issueKey(issue)
			recurrence[key]++
			if recurrence[key] == recurrenceEscalationCount {
				out.RecurrentIssues = append(out.RecurrentIssues, issue)
			}
		}
		if len(out.RecurrentIssues) > 0 {
			d.logger.Warn("reviewer disagreement recurring, flagging for escalation",
				"issues", len(out.RecurrentIssues))
			return out, nil
		}

		if round == d.maxRounds {
			return out, nil
		}

		response := ""
		if d.investigator != nil {
			response, err = d.investigator(ctx, result.Issues)
			if err != nil {
				d.logger.WithError(err).Warn("investigator failed; continuing without response document")
			}
		}
		prompt = fmt.Sprintf("%s\n\n## Previous review (round %d)\nVerdict: %s\nIssues:\n%s\n\n## Response to the review\n%s",
			basePrompt, round, result.Verdict, strings.Join(result.Issues, "\n"), response)
	}
	return out, nil
}

// issueKey normalizes an issue to its first 80 characters, lowercased
func issueKey(issue string) string {
	key := strings.ToLower(strings.TrimSpace(issue))
	if len(key) > 80 {
		key = key[:80]
	}
	return key
}
