package coord

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
)

// outputTailLimit bounds the combined output returned to workers
const outputTailLimit = 5000

// runTests shells the configured test command with optional file arguments
// and returns whether it passed plus the tail of its combined output.
func (srv *Server) runTests(ctx context.Context, req RunTestsRequest) (*RunTestsResponse, error) {
	if strings.TrimSpace(srv.cfg.TestCommand) == "" {
		return nil, cerrors.New(cerrors.ErrCodeBadVerbRequest, "no test command configured").
			WithSuggestion("set test_command in .conductor/config.yaml")
	}
	timeout := srv.cfg.DefaultTestTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(srv.cfg.TestCommand)
	args := append(parts[1:], req.Files...)
	cmd := exec.CommandContext(ctx, parts[0], args...) //#nosec G204 -- command comes from project config
	cmd.Dir = srv.store.ProjectDir()
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := combined.String()
	if len(output) > outputTailLimit {
		output = output[len(output)-outputTailLimit:]
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &RunTestsResponse{Passed: false, Output: output + "\n[test run timed out]"}, nil
	}
	return &RunTestsResponse{Passed: err == nil, Output: output}, nil
}
