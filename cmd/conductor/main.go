package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clpotvin/claude-code-conductor/internal/cmd"
	"github.com/clpotvin/claude-code-conductor/internal/exitcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			exitcode.Exit(exitcode.GeneralError)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitcode.Exit(exitcode.DetermineExitCode(err))
	}
	exitcode.Exit(exitcode.Success)
}
