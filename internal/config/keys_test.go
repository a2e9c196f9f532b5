package config

import (
	"errors"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	withKey := func(k string) *Config { return &Config{Anthropic: AnthropicConfig{APIKey: k}} }

	tests := []struct {
		name    string
		env     map[string]string
		cfg     *Config
		wantKey string
		wantSrc KeySource
	}{
		{"env wins over config", map[string]string{"ANTHROPIC_API_KEY": "sk-ant-env"}, withKey("sk-ant-file"), "sk-ant-env", KeySourceEnv},
		{"config file", nil, withKey("sk-ant-file"), "sk-ant-file", KeySourceConfig},
		{"config reference", map[string]string{"PW_TEST_KEY": "sk-ant-ref"}, withKey("${PW_TEST_KEY}"), "sk-ant-ref", KeySourceConfig},
		{"unresolved reference", nil, withKey("${PW_TEST_KEY}"), "", KeySourceNone},
		{"bedrock", map[string]string{"ANTHROPIC_API_KEY": "sk-ant-env"}, &Config{Anthropic: AnthropicConfig{UseBedrock: true}}, "", KeySourceBedrock},
		{"nothing", nil, &Config{}, "", KeySourceNone},
		{"nil config", nil, nil, "", KeySourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "")
			t.Setenv("PW_TEST_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			key, src := ResolveAPIKey(tt.cfg)
			if key != tt.wantKey || src != tt.wantSrc {
				t.Errorf("ResolveAPIKey() = %q, %s; want %q, %s", key, src, tt.wantKey, tt.wantSrc)
			}
			if got := GetAPIKeySource(tt.cfg); got != tt.wantSrc {
				t.Errorf("GetAPIKeySource() = %s", got)
			}
		})
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := GetAPIKey(&Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	// Bedrock does not hide a key the direct path could use.
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	key, err := GetAPIKey(&Config{Anthropic: AnthropicConfig{UseBedrock: true}})
	if err != nil || key != "sk-ant-env" {
		t.Errorf("GetAPIKey() = %q, %v", key, err)
	}
}

func TestValidateAndMaskAPIKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
		masked  string
	}{
		{"sk-ant-REDACTED", false, "sk-ant-...wxyz"},
		{"${ANTHROPIC_KEY}", false, "${ANTHROPIC_KEY}"},
		{"", true, "(not set)"},
		{"sk-other-12345678901234567890", true, "sk-othe...7890"},
		{"sk-ant-abc", true, "***"},
	}
	for _, tt := range tests {
		if err := ValidateAPIKey(tt.key); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAPIKey(%q) = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if got := MaskAPIKey(tt.key); got != tt.masked {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.masked)
		}
	}
}
