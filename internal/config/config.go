// Package config resolves conductor configuration with the usual
// precedence: command-line flags, then CONDUCTOR_* environment variables,
// then <project>/.conductor/config.yaml.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration for a run
type Config struct {
	Concurrency    int     `mapstructure:"concurrency"`
	MaxCycles      int     `mapstructure:"max_cycles"`
	UsageThreshold float64 `mapstructure:"usage_threshold"`
	SkipCodex      bool    `mapstructure:"skip_codex"`
	SkipFlowReview bool    `mapstructure:"skip_flow_review"`
	Verbose        bool    `mapstructure:"verbose"`

	ReviewerBinary string `mapstructure:"reviewer_binary"`
	SemgrepBinary  string `mapstructure:"semgrep_binary"`
	SemgrepConfig  string `mapstructure:"semgrep_config"`
	TestCommand    string `mapstructure:"test_command"`

	WorkerCommand   []string `mapstructure:"worker_command"`
	SentinelCommand []string `mapstructure:"sentinel_command"`

	UsageEndpoint string `mapstructure:"usage_endpoint"`
	UsageToken    string `mapstructure:"usage_token"`

	PlannerModel     string `mapstructure:"planner_model"`
	PlannerAPIKey    string `mapstructure:"planner_api_key"`
	PlannerMaxTokens int    `mapstructure:"planner_max_tokens"`

	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BudgetPollInterval time.Duration `mapstructure:"budget_poll_interval"`
	GraceWindow        time.Duration `mapstructure:"grace_window"`

	// QAContext is runtime-only: clarifying Q&A loaded from --context-file
	QAContext string `mapstructure:"-"`
}

// Load reads configuration for the given project directory. Flags should
// be bound onto v by the command layer before calling Load.
func Load(v *viper.Viper, projectDir string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, ".conductor"))
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is normal; anything else is reported.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("concurrency", 3)
	v.SetDefault("max_cycles", 5)
	v.SetDefault("usage_threshold", 0.80)
	v.SetDefault("reviewer_binary", "codex")
	v.SetDefault("semgrep_binary", "semgrep")
	v.SetDefault("semgrep_config", "auto")
	v.SetDefault("test_command", "npm test")
	v.SetDefault("worker_command", []string{"claude", "--print", "--dangerously-skip-permissions"})
	v.SetDefault("planner_max_tokens", 16384)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("budget_poll_interval", 30*time.Second)
	v.SetDefault("grace_window", 2*time.Minute)
}
