// Package cmd wires the conductor CLI: start, resume, status, pause, log.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Hierarchical agent orchestrator",
	Long: `conductor decomposes a feature into a task graph, runs a bounded pool
of autonomous agent workers against a shared task board, drives reviewer
and flow-tracing passes over each cycle's diff, and iterates the
plan/execute/review cycle until the feature is complete, the budget is
exhausted, or a human is needed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a signal-aware context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("project", ".", "project directory")
}
