package exitcode

import (
	"os"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates normal completion
	Success = 0

	// GeneralError indicates a fatal error condition
	GeneralError = 1

	// Escalation indicates the engine requested human guidance in
	// non-interactive mode; the launching shell can resume later
	Escalation = 2
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if errors.HasCode(err, errors.ErrCodeEscalated) {
		return Escalation
	}
	return GeneralError
}
