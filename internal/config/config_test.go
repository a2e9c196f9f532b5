package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Coordinator.MaxParallel != 1 {
		t.Errorf("expected max_parallel 1, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Coordinator.InterventionTimeout != 30*time.Minute {
		t.Errorf("expected intervention timeout 30m, got %v", cfg.Coordinator.InterventionTimeout)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Retry.MaxRetries)
	}
	b := cfg.Retry.Backoff()
	if b.BaseDelay != time.Second || b.Multiplier != 2 || b.MaxDelay != time.Minute {
		t.Errorf("unexpected default backoff %+v", b)
	}
	if cfg.State.Driver != "sqlite" {
		t.Errorf("expected driver sqlite, got %q", cfg.State.Driver)
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	writeFile(t, configPath, `
coordinator:
  max_parallel: 4
  task_timeout: 90s
retry:
  max_retries: 1
  base_delay: 250ms
  multiplier: 3
state:
  driver: sqlite3
  checkpoints: 5
anthropic:
  api_key: test-key
  use_bedrock: true
  aws_region: eu-west-1
tui:
  refresh_rate: 200ms
`)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Coordinator.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Coordinator.TaskTimeout != 90*time.Second {
		t.Errorf("expected task timeout 90s, got %v", cfg.Coordinator.TaskTimeout)
	}
	if cfg.Coordinator.EventBuffer != 100 {
		t.Errorf("expected default event buffer to survive, got %d", cfg.Coordinator.EventBuffer)
	}
	if cfg.Retry.MaxRetries != 1 || cfg.Retry.BaseDelay != 250*time.Millisecond || cfg.Retry.Multiplier != 3 {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Retry.MaxDelay != time.Minute {
		t.Errorf("expected default max delay, got %v", cfg.Retry.MaxDelay)
	}
	if cfg.State.Driver != "sqlite3" || cfg.State.Checkpoints != 5 {
		t.Errorf("unexpected state config %+v", cfg.State)
	}
	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "eu-west-1" {
		t.Errorf("unexpected anthropic config %+v", cfg.Anthropic)
	}
	if cfg.TUI.RefreshRate != 200*time.Millisecond {
		t.Errorf("expected refresh rate 200ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPathEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "coordinator:\n  max_parallel: 2\n")

	t.Setenv("PIPEWRIGHT_COORDINATOR_MAX_PARALLEL", "8")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Coordinator.MaxParallel != 8 {
		t.Errorf("expected env override 8, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected api key from env, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero parallelism", "coordinator:\n  max_parallel: 0\n", "max_parallel"},
		{"negative retries", "retry:\n  max_retries: -1\n", "max_retries"},
		{"shrinking multiplier", "retry:\n  multiplier: 0.5\n", "multiplier"},
		{"unknown driver", "state:\n  driver: postgres\n", "state.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, configPath, tt.content)

			_, err := LoadFromPath(configPath)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMergesUserAndProjectConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "pipewright", "config.yaml"), `
coordinator:
  max_parallel: 2
  event_buffer: 50
`)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, ProjectConfigName), `
coordinator:
  max_parallel: 6
`)
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coordinator.MaxParallel != 6 {
		t.Errorf("expected project value 6, got %d", cfg.Coordinator.MaxParallel)
	}
	if cfg.Coordinator.EventBuffer != 50 {
		t.Errorf("expected user value 50, got %d", cfg.Coordinator.EventBuffer)
	}
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coordinator.MaxParallel != 1 {
		t.Errorf("expected default max_parallel, got %d", cfg.Coordinator.MaxParallel)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Coordinator.MaxParallel = 3
	cfg.Coordinator.TaskTimeout = 2 * time.Minute
	cfg.Retry.BaseDelay = 500 * time.Millisecond
	cfg.Metrics.Addr = ":9090"
	cfg.Signals.Dir = "/tmp/signals"

	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Coordinator.MaxParallel != 3 || loaded.Coordinator.TaskTimeout != 2*time.Minute {
		t.Errorf("coordinator not round-tripped: %+v", loaded.Coordinator)
	}
	if loaded.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("base delay not round-tripped: %v", loaded.Retry.BaseDelay)
	}
	if loaded.Metrics.Addr != ":9090" || loaded.Signals.Dir != "/tmp/signals" {
		t.Errorf("unexpected values after round trip: %+v %+v", loaded.Metrics, loaded.Signals)
	}
}

func TestSaveWritesUserConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if err := Save(Default()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(GetUserConfigPath()); err != nil {
		t.Errorf("expected user config at %s: %v", GetUserConfigPath(), err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if got := expandEnv("${TEST_VAR}"); got != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", got)
	}
	if got := expandEnv("prefix-${TEST_VAR}-suffix"); got != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/pipewright" {
		t.Errorf("expected /custom/config/pipewright, got %q", dir)
	}
}

func TestFindProjectConfigFrom(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "x", "y", "z")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}

	if got := findProjectConfigFrom(deep); got != "" {
		t.Fatalf("expected no project config, got %q", got)
	}

	want := filepath.Join(root, "x", ProjectConfigName)
	writeFile(t, want, "coordinator:\n  max_parallel: 2\n")
	if got := findProjectConfigFrom(deep); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
