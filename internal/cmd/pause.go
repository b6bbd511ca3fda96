package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Request a cooperative pause of the running engine",
	Long: `Pause writes the pause signal file. The engine consumes it on its next
poll, broadcasts wind-down to the workers, waits for them to finish their
current units, and pauses the run durably.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir(cmd)
		if err != nil {
			return err
		}
		s := store.New(dir)
		if _, err := s.Load(); err != nil {
			return err
		}
		if err := s.RequestPause(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pause requested; the engine will wind down on its next poll")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}
