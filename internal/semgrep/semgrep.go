// Package semgrep drives the semgrep CLI as a best-effort static analysis
// pass. A missing binary downgrades to a warning; the tool's exit 1 with
// non-empty stdout means findings, which is success.
package semgrep

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
)

// Runner invokes semgrep over a project
type Runner struct {
	Binary string
	Config string
	logger *log.Logger
}

// New creates a Runner; config defaults to "auto"
func New(binary, config string, logger *log.Logger) *Runner {
	if binary == "" {
		binary = "semgrep"
	}
	if config == "" {
		config = "auto"
	}
	return &Runner{Binary: binary, Config: config, logger: logger}
}

// Installed reports whether the binary is on PATH
func (r *Runner) Installed() bool {
	_, err := exec.LookPath(r.Binary)
	return err == nil
}

// wire format subset of semgrep --json
type output struct {
	Results []result `json:"results"`
}

type result struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	End struct {
		Line int `json:"line"`
	} `json:"end"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"extra"`
}

// Scan runs semgrep over the given files (or the whole project when files
// is empty) and converts results into known-issue entrants.
func (r *Runner) Scan(ctx context.Context, projectDir string, files []string) ([]issues.KnownIssue, error) {
	args := []string{"--json", "--config=" + r.Config}
	if len(files) > 0 {
		args = append(args, files...)
	} else {
		args = append(args, ".")
	}
	cmd := exec.CommandContext(ctx, r.Binary, args...) //#nosec G204 -- binary comes from config
	cmd.Dir = projectDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// Exit 1 with non-empty stdout is the findings-present case.
	if err != nil && strings.TrimSpace(stdout.String()) == "" {
		r.logger.WithError(err).Warn("semgrep failed", "stderr", strings.TrimSpace(stderr.String()))
		return nil, err
	}

	var parsed output
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		r.logger.WithError(err).Warn("semgrep output unparseable")
		return nil, err
	}

	out := make([]issues.KnownIssue, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		out = append(out, issues.KnownIssue{
			Description: res.CheckID + ": " + res.Extra.Message,
			Severity:    mapSeverity(res.Extra.Severity),
			Source:      issues.SourceSemgrep,
			FilePath:    res.Path,
		})
	}
	return out, nil
}

func mapSeverity(s string) issues.Severity {
	switch strings.ToUpper(s) {
	case "ERROR":
		return issues.SeverityHigh
	case "WARNING":
		return issues.SeverityMedium
	default:
		return issues.SeverityLow
	}
}
