// Package issues is the append-only, deduplicated registry of findings
// carried across cycles. Unresolved entries feed replanning so every
// surviving finding eventually produces a targeted fix task.
package issues

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// Source identifies which pipeline produced a finding
type Source string

// Finding sources
const (
	SourceCodexReview       Source = "codex_review"
	SourceFlowTracing       Source = "flow_tracing"
	SourceSemgrep           Source = "semgrep"
	SourceIncrementalReview Source = "incremental_review"
	SourceSentinel          Source = "sentinel"
)

// Severity mirrors finding severity across sources
type Severity string

// Severities, in descending order of urgency
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// KnownIssue is one deduplicated finding tracked across cycles
type KnownIssue struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	Severity         Severity  `json:"severity"`
	Source           Source    `json:"source"`
	FilePath         string    `json:"file_path,omitempty"`
	CycleFound       int       `json:"cycle_found"`
	AddressedInCycle *int      `json:"addressed_in_cycle,omitempty"`
	Addressed        bool      `json:"addressed"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// dedupPrefixLen bounds the description portion of the dedup key
const dedupPrefixLen = 80

// DedupKey returns the registry key: file path plus the lowercased first 80
// characters of the description.
func DedupKey(filePath, description string) string {
	desc := strings.ToLower(description)
	if len(desc) > dedupPrefixLen {
		desc = desc[:dedupPrefixLen]
	}
	return filePath + "::" + desc
}

// Registry is the file-backed known-issue list for one project
type Registry struct {
	path string
}

// NewRegistry returns a registry persisting at path
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Load reads the current issue list; a missing file is an empty registry
func (r *Registry) Load() ([]KnownIssue, error) {
	data, err := os.ReadFile(r.path) //#nosec G304 -- store-scoped
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read known issues", err)
	}
	var list []KnownIssue
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileParse, "parse known issues", err)
	}
	return list, nil
}

// Add appends new issues, dropping entrants whose dedup key is already
// present. Adding an already-known finding is a no-op, so the operation is
// idempotent. Returns the number actually added.
func (r *Registry) Add(cycle int, entrants []KnownIssue) (int, error) {
	existing, err := r.Load()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, issue := range existing {
		seen[DedupKey(issue.FilePath, issue.Description)] = true
	}

	added := 0
	for _, issue := range entrants {
		key := DedupKey(issue.FilePath, issue.Description)
		if seen[key] {
			continue
		}
		seen[key] = true
		if issue.ID == "" {
			issue.ID = fmt.Sprintf("ki-%03d", len(existing)+1)
		}
		if issue.RecordedAt.IsZero() {
			issue.RecordedAt = time.Now().UTC()
		}
		issue.CycleFound = cycle
		existing = append(existing, issue)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, r.save(existing)
}

// MarkAddressed flags the given issue ids as addressed in the given cycle
func (r *Registry) MarkAddressed(ids []string, cycle int) error {
	list, err := r.Load()
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	changed := false
	for i := range list {
		if want[list[i].ID] && !list[i].Addressed {
			list[i].Addressed = true
			c := cycle
			list[i].AddressedInCycle = &c
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.save(list)
}

// Unresolved returns issues not yet addressed
func (r *Registry) Unresolved() ([]KnownIssue, error) {
	list, err := r.Load()
	if err != nil {
		return nil, err
	}
	var out []KnownIssue
	for _, issue := range list {
		if !issue.Addressed {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (r *Registry) save(list []KnownIssue) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "marshal known issues", err)
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".tmp-issues-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "create temp file", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(name)
		return errors.Wrap(errors.ErrCodeFileWrite, "write known issues", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrap(errors.ErrCodeFileWrite, "close temp file", err)
	}
	if err := os.Rename(name, r.path); err != nil {
		os.Remove(name)
		return errors.Wrap(errors.ErrCodeFileWrite, "publish known issues", err)
	}
	return nil
}
