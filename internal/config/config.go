// Package config handles configuration loading and management for pipewright.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

const (
	// ProjectConfigName is the project-level config file searched for upward
	// from the working directory.
	ProjectConfigName = ".pipewright.yaml"
	// EnvPrefix prefixes environment overrides, e.g. PIPEWRIGHT_COORDINATOR_MAX_PARALLEL.
	EnvPrefix = "PIPEWRIGHT"
)

// Config holds all configuration for pipewright.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Retry       RetryConfig       `mapstructure:"retry"`
	State       StateConfig       `mapstructure:"state"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Signals     SignalsConfig     `mapstructure:"signals"`
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	TUI         TUIConfig         `mapstructure:"tui"`
}

// CoordinatorConfig holds scheduling settings.
type CoordinatorConfig struct {
	// MaxParallel bounds how many independent tasks run at once.
	MaxParallel int `mapstructure:"max_parallel"`
	// TaskTimeout is the per-attempt timeout for tasks that declare none. Zero disables it.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// InterventionTimeout bounds how long a user may take to answer.
	InterventionTimeout time.Duration `mapstructure:"intervention_timeout"`
	// EventBuffer is the size of the coordinator's event channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// RetryConfig holds the workflow-wide retry defaults.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// Backoff returns the retry delays as a task backoff.
func (r RetryConfig) Backoff() models.Backoff {
	return models.Backoff{
		BaseDelay:  r.BaseDelay,
		Multiplier: r.Multiplier,
		MaxDelay:   r.MaxDelay,
	}
}

// StateConfig holds checkpoint database settings.
type StateConfig struct {
	// Path is the database file. Empty means .pipewright/state.db in the project.
	Path string `mapstructure:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	// Checkpoints is how many checkpoints to keep per run. Zero keeps all.
	Checkpoints int `mapstructure:"checkpoints"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// DebugLog is the coordinator debug log file. Empty disables it.
	DebugLog string `mapstructure:"debug_log"`
}

// SignalsConfig holds the signal-file directory settings.
type SignalsConfig struct {
	// Dir is watched for cancel and pause files. Empty means .pipewright/signals.
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AnthropicConfig holds settings for prompt tasks.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int    `mapstructure:"max_tokens"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (PIPEWRIGHT_*, ANTHROPIC_API_KEY)
// 2. Project config (.pipewright.yaml in current directory or parent)
// 3. User config (~/.config/pipewright/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.State.Path = expandEnv(cfg.State.Path)
	cfg.Logging.DebugLog = expandEnv(cfg.Logging.DebugLog)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the coordinator cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Coordinator.MaxParallel < 1 {
		problems = append(problems, "coordinator.max_parallel must be at least 1")
	}
	if c.Coordinator.TaskTimeout < 0 {
		problems = append(problems, "coordinator.task_timeout must not be negative")
	}
	if c.Coordinator.EventBuffer < 0 {
		problems = append(problems, "coordinator.event_buffer must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		problems = append(problems, "retry delays must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		problems = append(problems, "retry.multiplier must be at least 1")
	}
	switch c.State.Driver {
	case "sqlite", "sqlite3":
	default:
		problems = append(problems, fmt.Sprintf("state.driver %q is not one of sqlite, sqlite3", c.State.Driver))
	}
	if c.State.Checkpoints < 0 {
		problems = append(problems, "state.checkpoints must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(filepath.Join(userConfigDir, "config.yaml"), cfg)
}

// SaveTo writes the configuration to path as YAML.
func SaveTo(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("coordinator.max_parallel", cfg.Coordinator.MaxParallel)
	v.Set("coordinator.task_timeout", cfg.Coordinator.TaskTimeout.String())
	v.Set("coordinator.intervention_timeout", cfg.Coordinator.InterventionTimeout.String())
	v.Set("coordinator.event_buffer", cfg.Coordinator.EventBuffer)
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("retry.multiplier", cfg.Retry.Multiplier)
	v.Set("retry.max_delay", cfg.Retry.MaxDelay.String())
	v.Set("state.path", cfg.State.Path)
	v.Set("state.driver", cfg.State.Driver)
	v.Set("state.checkpoints", cfg.State.Checkpoints)
	v.Set("logging.debug_log", cfg.Logging.DebugLog)
	v.Set("signals.dir", cfg.Signals.Dir)
	v.Set("signals.poll_interval", cfg.Signals.PollInterval.String())
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("coordinator.max_parallel", d.Coordinator.MaxParallel)
	v.SetDefault("coordinator.task_timeout", d.Coordinator.TaskTimeout.String())
	v.SetDefault("coordinator.intervention_timeout", d.Coordinator.InterventionTimeout.String())
	v.SetDefault("coordinator.event_buffer", d.Coordinator.EventBuffer)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay.String())
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay.String())

	v.SetDefault("state.path", d.State.Path)
	v.SetDefault("state.driver", d.State.Driver)
	v.SetDefault("state.checkpoints", d.State.Checkpoints)

	v.SetDefault("logging.debug_log", d.Logging.DebugLog)

	v.SetDefault("signals.dir", d.Signals.Dir)
	v.SetDefault("signals.poll_interval", d.Signals.PollInterval.String())

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for pipewright.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pipewright")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "pipewright")
	}
	return filepath.Join(home, ".config", "pipewright")
}

// findProjectConfig searches for .pipewright.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfigFrom(cwd)
}

func findProjectConfigFrom(dir string) string {
	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxParallel:         1,
			InterventionTimeout: 30 * time.Minute,
			EventBuffer:         100,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			MaxDelay:   time.Minute,
		},
		State: StateConfig{
			Driver:      "sqlite",
			Checkpoints: 20,
		},
		Signals: SignalsConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			AWSRegion: "us-east-1",
			MaxTokens: 4096,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
