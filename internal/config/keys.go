package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when prompt tasks need an API key and none is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured (set ANTHROPIC_API_KEY or anthropic.api_key, or enable anthropic.use_bedrock)")

// KeySource says where prompt-task credentials come from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

const apiKeyEnv = "ANTHROPIC_API_KEY"

// ResolveAPIKey finds the credentials prompt tasks will use. Bedrock needs no
// key. Otherwise ANTHROPIC_API_KEY wins over anthropic.api_key, which may
// reference environment variables as ${VAR}.
func ResolveAPIKey(cfg *Config) (string, KeySource) {
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return "", KeySourceBedrock
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, KeySourceEnv
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// GetAPIKey returns the key for the direct API path.
func GetAPIKey(cfg *Config) (string, error) {
	direct := cfg
	if cfg != nil && cfg.Anthropic.UseBedrock {
		c := *cfg
		c.Anthropic.UseBedrock = false
		direct = &c
	}
	key, _ := ResolveAPIKey(direct)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource reports where credentials will be loaded from.
func GetAPIKeySource(cfg *Config) KeySource {
	_, src := ResolveAPIKey(cfg)
	return src
}

// ValidateAPIKey checks the shape of a literal key. Environment references
// are accepted as is; nothing is sent to Anthropic.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}"):
		return nil
	case !strings.HasPrefix(key, "sk-ant-"):
		return fmt.Errorf("invalid API key format: expected %q prefix", "sk-ant-")
	case len(key) < 20:
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey hides all but the prefix and last four characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case strings.HasPrefix(key, "${"):
		return key
	case len(key) <= 15:
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
