package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/pipewright/internal/config"
	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/signals"
	"github.com/ShayCichocki/pipewright/internal/state"
	"github.com/ShayCichocki/pipewright/internal/workflow"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// loadConfig loads --config if given, otherwise the merged user and project config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// projectRoot returns --project or the working directory.
func projectRoot() (string, error) {
	dir := projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

// statePath resolves the checkpoint database location.
func statePath(cfg *config.Config, root string) string {
	if cfg.State.Path != "" {
		return cfg.State.Path
	}
	return state.ProjectDBPath(root)
}

// openState opens and migrates the checkpoint database.
func openState(cfg *config.Config, root string) (*state.DB, error) {
	db, err := state.OpenWithDriver(cfg.State.Driver, statePath(cfg, root))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	db.SetKeepCheckpoints(cfg.State.Checkpoints)
	return db, nil
}

// signalsDir resolves the signal-file directory.
func signalsDir(cfg *config.Config, root string) string {
	if cfg.Signals.Dir != "" {
		return cfg.Signals.Dir
	}
	return signals.Dir(root)
}

// newLLM creates the completion client when the workflow has prompt tasks.
func newLLM(ctx context.Context, cfg *config.Config, wf *workflow.File) (llm.Completer, error) {
	if !wf.NeedsLLM() {
		return nil, nil
	}
	clientCfg := llm.ClientConfig{
		Model:         cfg.Anthropic.Model,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		MaxTokens:     cfg.Anthropic.MaxTokens,
	}
	if !clientCfg.UseAWSBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		clientCfg.APIKey = key
	}
	client, err := llm.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return client, nil
}

// parseSets turns --set key=value flags into global values. Values that
// parse as JSON keep their type; anything else is a string.
func parseSets(sets []string) (map[string]models.Value, error) {
	out := make(map[string]models.Value, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", s)
		}
		v, err := models.FromJSON([]byte(raw))
		if err != nil {
			v = models.String(raw)
		}
		out[key] = v
	}
	return out, nil
}

// workflowGlobals merges the workflow's globals with --set overrides.
func workflowGlobals(wf *workflow.File, sets []string) (map[string]models.Value, error) {
	globals, err := wf.GlobalValues()
	if err != nil {
		return nil, err
	}
	overrides, err := parseSets(sets)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		globals[k] = v
	}
	return globals, nil
}

// printStatus prints a colored symbol followed by a message.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printResult writes the end-of-run summary.
func printResult(w io.Writer, workflowName string, result *models.RunResult) {
	fmt.Fprintln(w)
	header := fmt.Sprintf("Run %s (%s) %s in %s", result.RunID, workflowName, result.Status, formatDuration(result.Duration()))
	if result.Success {
		printStatus(w, "✓", header, color.FgGreen)
	} else {
		printStatus(w, "✗", header, color.FgRed)
	}

	fmt.Fprintf(w, "  Completed: %d  Failed: %d  Skipped: %d\n",
		len(result.CompletedTasks), len(result.FailedTasks), len(result.SkippedTasks))
	for _, id := range result.FailedTasks {
		ts, _ := result.State.Task(id)
		printStatus(w, "  ✗", fmt.Sprintf("%s: %s", id, ts.Cause), color.FgRed)
	}
	for _, id := range result.SkippedTasks {
		ts, _ := result.State.Task(id)
		printStatus(w, "  -", fmt.Sprintf("%s: %s", id, ts.Cause), color.FgYellow)
	}

	if len(result.Deliverables) > 0 {
		fmt.Fprintln(w, "  Deliverables:")
		ids := make([]string, 0, len(result.Deliverables))
		for id := range result.Deliverables {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "    %s: %s\n", id, truncate(deliverableText(result.Deliverables[id]), 120))
		}
	}
}

// deliverableText renders a value on one line.
func deliverableText(v models.Value) string {
	if s, ok := v.AsString(); ok {
		return strings.ReplaceAll(s, "\n", `\n`)
	}
	return v.String()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s > 0 {
			return fmt.Sprintf("%dm%ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
