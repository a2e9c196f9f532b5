package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/config"
)

var configLocal bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify pipewright configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/pipewright/config.yaml
Project-specific overrides can be placed in .pipewright.yaml (use --local).`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		out := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			for _, k := range configKeys {
				value, _ := getConfigValue(cfg, k.name)
				fmt.Fprintf(out, "%s: %s\n", k.name, value)
			}
			fmt.Fprintf(out, "\nAPI key source: %s\n", config.GetAPIKeySource(cfg))
			if p := config.GetProjectConfigPath(); p != "" {
				fmt.Fprintf(out, "Project config: %s\n", p)
			}
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			path, err := saveConfig(cfg)
			if err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s (%s)\n", args[0], args[1], path)
			return nil
		}
	},
}

func init() {
	configCmd.Flags().BoolVar(&configLocal, "local", false, "Write to the project's .pipewright.yaml instead of the user config")
}

// saveConfig writes to --config, the project file or the user file.
func saveConfig(cfg *config.Config) (string, error) {
	switch {
	case configPath != "":
		return configPath, config.SaveTo(configPath, cfg)
	case configLocal:
		root, err := projectRoot()
		if err != nil {
			return "", err
		}
		path := filepath.Join(root, config.ProjectConfigName)
		return path, config.SaveTo(path, cfg)
	default:
		return config.GetUserConfigPath(), config.Save(cfg)
	}
}

// configKey maps a dot-notation key onto a config field.
type configKey struct {
	name string
	get  func(*config.Config) string
	set  func(*config.Config, string) error
}

func durationKey(name string, field func(*config.Config) *time.Duration) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return field(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", name, err)
			}
			*field(c) = d
			return nil
		},
	}
}

func intKey(name string, field func(*config.Config) *int) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func stringKey(name string, field func(*config.Config) *string) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return *field(c) },
		set:  func(c *config.Config, v string) error { *field(c) = v; return nil },
	}
}

func boolKey(name string, field func(*config.Config) *bool) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

var configKeys = []configKey{
	intKey("coordinator.max_parallel", func(c *config.Config) *int { return &c.Coordinator.MaxParallel }),
	durationKey("coordinator.task_timeout", func(c *config.Config) *time.Duration { return &c.Coordinator.TaskTimeout }),
	durationKey("coordinator.intervention_timeout", func(c *config.Config) *time.Duration { return &c.Coordinator.InterventionTimeout }),
	intKey("coordinator.event_buffer", func(c *config.Config) *int { return &c.Coordinator.EventBuffer }),
	intKey("retry.max_retries", func(c *config.Config) *int { return &c.Retry.MaxRetries }),
	durationKey("retry.base_delay", func(c *config.Config) *time.Duration { return &c.Retry.BaseDelay }),
	{
		name: "retry.multiplier",
		get:  func(c *config.Config) string { return strconv.FormatFloat(c.Retry.Multiplier, 'g', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for retry.multiplier: %w", err)
			}
			c.Retry.Multiplier = f
			return nil
		},
	},
	durationKey("retry.max_delay", func(c *config.Config) *time.Duration { return &c.Retry.MaxDelay }),
	stringKey("state.path", func(c *config.Config) *string { return &c.State.Path }),
	stringKey("state.driver", func(c *config.Config) *string { return &c.State.Driver }),
	intKey("state.checkpoints", func(c *config.Config) *int { return &c.State.Checkpoints }),
	stringKey("logging.debug_log", func(c *config.Config) *string { return &c.Logging.DebugLog }),
	stringKey("signals.dir", func(c *config.Config) *string { return &c.Signals.Dir }),
	durationKey("signals.poll_interval", func(c *config.Config) *time.Duration { return &c.Signals.PollInterval }),
	{
		name: "anthropic.api_key",
		get:  func(c *config.Config) string { return config.MaskAPIKey(c.Anthropic.APIKey) },
		set: func(c *config.Config, v string) error {
			if err := config.ValidateAPIKey(v); err != nil {
				return err
			}
			c.Anthropic.APIKey = v
			return nil
		},
	},
	stringKey("anthropic.model", func(c *config.Config) *string { return &c.Anthropic.Model }),
	boolKey("anthropic.use_bedrock", func(c *config.Config) *bool { return &c.Anthropic.UseBedrock }),
	stringKey("anthropic.aws_region", func(c *config.Config) *string { return &c.Anthropic.AWSRegion }),
	stringKey("anthropic.aws_profile", func(c *config.Config) *string { return &c.Anthropic.AWSProfile }),
	intKey("anthropic.max_tokens", func(c *config.Config) *int { return &c.Anthropic.MaxTokens }),
	stringKey("metrics.addr", func(c *config.Config) *string { return &c.Metrics.Addr }),
	durationKey("tui.refresh_rate", func(c *config.Config) *time.Duration { return &c.TUI.RefreshRate }),
}

func lookupConfigKey(key string) (configKey, error) {
	key = strings.ToLower(key)
	for _, k := range configKeys {
		if k.name == key {
			return k, nil
		}
	}
	return configKey{}, fmt.Errorf("unknown configuration key: %s", key)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	k, err := lookupConfigKey(key)
	if err != nil {
		return "", err
	}
	return k.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	k, err := lookupConfigKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, value)
}
