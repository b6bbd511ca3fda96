package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the reviewer's judgment, plus internal outcomes this driver
// produces when the tool misbehaves.
type Verdict string

// Reviewer verdicts and internal outcomes
const (
	VerdictApprove         Verdict = "APPROVE"
	VerdictNeedsDiscussion Verdict = "NEEDS_DISCUSSION"
	VerdictMajorConcerns   Verdict = "MAJOR_CONCERNS"
	VerdictNeedsFixes      Verdict = "NEEDS_FIXES"
	VerdictMajorProblems   Verdict = "MAJOR_PROBLEMS"

	// VerdictNoVerdict means the tool ran but produced unparseable output
	VerdictNoVerdict Verdict = "NO_VERDICT"
	// VerdictRateLimited means the tool stopped responding persistently
	VerdictRateLimited Verdict = "RATE_LIMITED"
	// VerdictError means two attempts both produced unparseable output
	VerdictError Verdict = "ERROR"
)

// IsReal reports whether v is an actual reviewer verdict rather than an
// internal outcome.
func (v Verdict) IsReal() bool {
	switch v {
	case VerdictApprove, VerdictNeedsDiscussion, VerdictMajorConcerns, VerdictNeedsFixes, VerdictMajorProblems:
		return true
	}
	return false
}

// Result is a parsed review
type Result struct {
	Verdict Verdict
	Issues  []string
	Summary string
}

// Approved reports whether the review ended in approval
func (r *Result) Approved() bool { return r.Verdict == VerdictApprove }

// wire shapes for the reviewer's JSON block
type reviewPayload struct {
	ReviewPerformed bool         `json:"review_performed"`
	Verdict         string       `json:"verdict"`
	Issues          []issueEntry `json:"issues"`
	Summary         string       `json:"summary"`
}

type issueEntry struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseVerdict extracts the structured verdict from reviewer output.
// Primary path is a fenced JSON block; fallback is the first raw JSON
// object containing "review_performed". Returns nil when no verdict can
// be recovered.
func ParseVerdict(output string) *Result {
	var candidates []string
	for _, m := range fencedJSON.FindAllStringSubmatch(output, -1) {
		candidates = append(candidates, m[1])
	}
	if raw := firstJSONObject(output); raw != "" {
		candidates = append(candidates, raw)
	}

	for _, candidate := range candidates {
		if !strings.Contains(candidate, "review_performed") {
			continue
		}
		var payload reviewPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		if !payload.ReviewPerformed {
			continue
		}
		verdict := Verdict(strings.ToUpper(strings.TrimSpace(payload.Verdict)))
		if !verdict.IsReal() {
			continue
		}
		result := &Result{Verdict: verdict, Summary: payload.Summary}
		for _, issue := range payload.Issues {
			result.Issues = append(result.Issues, formatIssue(issue))
		}
		return result
	}
	return nil
}

func formatIssue(issue issueEntry) string {
	sev := strings.ToLower(strings.TrimSpace(issue.Severity))
	switch sev {
	case "minor", "major", "critical":
	default:
		sev = "unknown"
	}
	return fmt.Sprintf("[%s] %s", sev, issue.Description)
}

// firstJSONObject scans for the first balanced top-level JSON object that
// mentions review_performed.
func firstJSONObject(s string) string {
	start := 0
	for {
		idx := strings.IndexByte(s[start:], '{')
		if idx < 0 {
			return ""
		}
		idx += start
		end, ok := scanBalanced(s, idx)
		if !ok {
			return ""
		}
		candidate := s[idx:end]
		if strings.Contains(candidate, "review_performed") {
			return candidate
		}
		start = end
	}
}

// scanBalanced returns the index just past the object opened at idx,
// respecting string literals and escapes.
func scanBalanced(s string, idx int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := idx; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
