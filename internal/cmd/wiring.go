package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clpotvin/claude-code-conductor/internal/budget"
	"github.com/clpotvin/claude-code-conductor/internal/config"
	"github.com/clpotvin/claude-code-conductor/internal/engine"
	"github.com/clpotvin/claude-code-conductor/internal/flowtrace"
	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/log"
	"github.com/clpotvin/claude-code-conductor/internal/planner"
	"github.com/clpotvin/claude-code-conductor/internal/review"
	"github.com/clpotvin/claude-code-conductor/internal/semgrep"
	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/vcs"
)

// projectDir resolves the --project flag to an absolute path
func projectDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString("project")
	if err != nil {
		return "", err
	}
	return filepath.Abs(dir)
}

// loadConfig binds the command's flags over the project config file
func loadConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	v := viper.New()
	bind := func(key, flag string) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
	bind("concurrency", "concurrency")
	bind("max_cycles", "max-cycles")
	bind("usage_threshold", "usage-threshold")
	bind("skip_codex", "skip-codex")
	bind("skip_flow_review", "skip-flow-review")
	bind("verbose", "verbose")
	return config.Load(v, dir)
}

// newLogger builds the run logger, teeing to the project log directory
// when the state directory exists.
func newLogger(cfg *config.Config, dir string) *log.Logger {
	lc := log.DefaultConfig()
	if cfg.Verbose {
		lc = log.VerboseConfig()
	}
	logsDir := filepath.Join(dir, store.DirName, "logs")
	if _, err := os.Stat(filepath.Dir(logsDir)); err == nil {
		if logger, err := log.NewWithFile(lc, logsDir); err == nil {
			return logger
		}
	}
	return log.New(lc)
}

// buildEngine assembles the full engine from config
func buildEngine(s *store.Store, cfg *config.Config, dryRun bool, interactive bool, contextText string, logger *log.Logger) (*engine.Engine, error) {
	apiKey := cfg.PlannerAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	plannerClient, err := planner.NewAnthropicClient(planner.AnthropicOptions{
		APIKey:    apiKey,
		Model:     cfg.PlannerModel,
		MaxTokens: cfg.PlannerMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	runner := &review.CLIRunner{Binary: cfg.ReviewerBinary, ProjectDir: s.ProjectDir()}
	investigator := func(ctx context.Context, issueList []string) (string, error) {
		prompt := "Investigate these review issues against the current code and draft a response document describing how each is or will be addressed:\n"
		for _, issue := range issueList {
			prompt += "- " + issue + "\n"
		}
		return plannerClient.Complete(ctx, prompt)
	}
	planDialogue := review.NewDialogue(review.NewDriver(runner, logger), investigator, review.DefaultMaxRounds, logger)
	codeDialogue := review.NewDialogue(review.NewDriver(runner, logger), investigator, review.DefaultMaxRounds, logger)

	tracer := flowtrace.New(
		flowtrace.NewLLMDeriver(plannerClient),
		flowtrace.NewLLMSubtask(plannerClient),
		logger,
	)

	monitor := budget.New(budget.Config{
		Endpoint:          cfg.UsageEndpoint,
		Token:             cfg.UsageToken,
		WindDownThreshold: cfg.UsageThreshold,
		PollInterval:      cfg.BudgetPollInterval,
	}, logger)

	registry := issues.NewRegistry(s.KnownIssuesPath())
	analyzer := semgrep.New(cfg.SemgrepBinary, cfg.SemgrepConfig, logger)
	git := vcs.New(s.ProjectDir())

	eng := engine.New(s, plannerClient, planDialogue, codeDialogue, tracer,
		monitor, git, registry, analyzer, engine.Config{
			Concurrency:     cfg.Concurrency,
			MaxCycles:       cfg.MaxCycles,
			Interactive:     interactive,
			SkipReviewer:    cfg.SkipCodex,
			SkipFlowTrace:   cfg.SkipFlowReview,
			DryRun:          dryRun,
			PollInterval:    cfg.PollInterval,
			GraceWindow:     cfg.GraceWindow,
			WorkerCommand:   cfg.WorkerCommand,
			SentinelCommand: cfg.SentinelCommand,
			TestCommand:     cfg.TestCommand,
			QATranscript:    contextText,
		}, logger)
	return eng, nil
}
