package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/vcs"
)

var startCmd = &cobra.Command{
	Use:   "start <feature>",
	Short: "Start a new run for a feature",
	Long: `Start initializes the durable run state, creates (or reuses) the
working branch, and drives plan/execute/review cycles until the feature
is complete, the run pauses, or a human is needed.

Exit codes:
  0  run completed (or dry run finished)
  1  fatal error
  2  escalation requested (non-interactive mode)`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, dir)
		if err != nil {
			return err
		}

		feature := strings.Join(args, " ")
		if contextFile, _ := cmd.Flags().GetString("context-file"); contextFile != "" {
			data, err := os.ReadFile(contextFile) //#nosec G304 -- operator-supplied path
			if err != nil {
				return fmt.Errorf("read context file: %w", err)
			}
			cfg.QAContext = string(data)
		}

		git := vcs.New(dir)
		ctx := cmd.Context()
		branch, err := git.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		if useCurrent, _ := cmd.Flags().GetBool("current-branch"); !useCurrent {
			branch = workingBranchName(feature)
			if err := git.EnsureBranch(ctx, branch); err != nil {
				return err
			}
		}
		baseCommit, err := git.HeadSHA(ctx)
		if err != nil {
			return err
		}

		s := store.New(dir)
		if _, err := s.Init(store.InitOptions{
			Feature:     feature,
			Branch:      branch,
			BaseCommit:  baseCommit,
			MaxCycles:   cfg.MaxCycles,
			Concurrency: cfg.Concurrency,
		}); err != nil {
			return err
		}

		logger := newLogger(cfg, dir)
		defer logger.Close()
		log.SetDefaultLogger(logger)
		logger.Info("run initialized", "branch", branch, "base", baseCommit[:8],
			"concurrency", cfg.Concurrency, "max_cycles", cfg.MaxCycles)

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		interactive, _ := cmd.Flags().GetBool("interactive")
		eng, err := buildEngine(s, cfg, dryRun, interactive, cfg.QAContext, logger)
		if err != nil {
			return err
		}
		return eng.Run(ctx)
	},
}

// workingBranchName derives a branch slug from the feature text
func workingBranchName(feature string) string {
	slug := strings.ToLower(feature)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return "conductor/" + slug
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", 3, "maximum concurrent workers")
	cmd.Flags().Int("max-cycles", 5, "cycle cap before escalation")
	cmd.Flags().Float64("usage-threshold", 0.80, "budget wind-down threshold")
	cmd.Flags().Bool("skip-codex", false, "skip reviewer dialogues")
	cmd.Flags().Bool("skip-flow-review", false, "skip flow tracing")
	cmd.Flags().Bool("dry-run", false, "plan and create tasks without executing")
	cmd.Flags().String("context-file", "", "file with clarifying Q&A context")
	cmd.Flags().Bool("current-branch", false, "work on the current branch instead of creating one")
	cmd.Flags().Bool("interactive", false, "prompt on escalation instead of exiting")
	cmd.Flags().Bool("verbose", false, "debug logging")
}

func init() {
	addRunFlags(startCmd)
	rootCmd.AddCommand(startCmd)
}
