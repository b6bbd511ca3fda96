package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused or escalated run",
	Long: `Resume loads the durable state and re-enters the cycle from the last
checkpoint. Pending or in-progress tasks skip planning and go straight to
execution. If the run is paused, resume waits out the recorded
resume-after time first. Every pause records one, a user pause included,
so resuming after a user pause waits as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, dir)
		if err != nil {
			return err
		}

		s := store.New(dir)
		state, err := s.Load()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, dir)
		defer logger.Close()
		log.SetDefaultLogger(logger)

		if state.Status == store.RunCompleted {
			logger.Info("run already completed; nothing to resume")
			return nil
		}

		if state.Status == store.RunPaused && state.ResumeAfter != nil {
			if wait := time.Until(*state.ResumeAfter); wait > 0 {
				logger.Info("waiting for resume window",
					"resume_after", state.ResumeAfter.Format(time.RFC3339))
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(wait):
				}
			}
		}

		// Clear pause/escalation markers before re-entering the cycle.
		if err := s.ClearEscalation(); err != nil {
			return err
		}
		if _, err := s.MutateState(func(st *store.RunState) error {
			st.Status = store.RunExecuting
			st.PausedAt = nil
			st.ResumeAfter = nil
			return nil
		}); err != nil {
			return err
		}
		logger.Info("resuming run", "cycle", state.CurrentCycle, "branch", state.Branch)

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		interactive, _ := cmd.Flags().GetBool("interactive")
		eng, err := buildEngine(s, cfg, dryRun, interactive, cfg.QAContext, logger)
		if err != nil {
			return err
		}
		return eng.Run(cmd.Context())
	},
}

func init() {
	addRunFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}
