package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/internal/registry"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

const releaseWorkflow = `
name: release
globals:
  env: staging
  replicas: 3
defaults:
  max_retries: 2
  backoff:
    base_delay: 10ms
    multiplier: 3
  timeout: 1m
tasks:
  - id: notes
    kind: prompt
    depends_on: [build]
    optional_depends_on: [lint]
    defaults:
      lint: {clean: true}
    prompt: "Notes for {{ .Deps.build }}"
  - id: version
    value: {major: 1, minor: 4}
  - id: build
    depends_on: [version]
    run: echo built
    critical: false
    max_retries: 0
    timeout: 5s
  - id: lint
    depends_on: [version]
    run: echo lint
    output: json
    expect: {version: map}
    requires_intervention: true
    backoff:
      multiplier: 5
`

type stubLLM struct{}

func (stubLLM) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "notes"}, nil
}

func writeWorkflow(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "release.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing workflow: %v", err)
	}
	return path
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(releaseWorkflow))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Name != "release" || len(f.Tasks) != 4 {
		t.Fatalf("unexpected file %+v", f)
	}
	if f.Defaults.Backoff == nil || f.Defaults.Backoff.BaseDelay != 10*time.Millisecond || f.Defaults.Backoff.Multiplier != 3 {
		t.Errorf("unexpected default backoff %+v", f.Defaults.Backoff)
	}
	if !f.NeedsLLM() {
		t.Error("expected NeedsLLM")
	}

	kinds := map[string]string{}
	for _, spec := range f.Tasks {
		kinds[spec.ID] = spec.kind()
	}
	want := map[string]string{"notes": KindPrompt, "version": KindValue, "build": KindCommand, "lint": KindCommand}
	for id, k := range want {
		if kinds[id] != k {
			t.Errorf("task %s kind = %q, want %q", id, kinds[id], k)
		}
	}

	globals, err := f.GlobalValues()
	if err != nil {
		t.Fatal(err)
	}
	if !globals["replicas"].Equal(models.Int(3)) || !globals["env"].Equal(models.String("staging")) {
		t.Errorf("unexpected globals %v", globals)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "empty"},
		{"no tasks", "name: x\n", "no tasks"},
		{"unknown field", "tasks:\n  - id: a\n    run: x\n    retries: 3\n", "retries"},
		{"missing id", "tasks:\n  - run: x\n", "id is required"},
		{"duplicate id", "tasks:\n  - {id: a, run: x}\n  - {id: a, run: y}\n", "duplicate id"},
		{"unknown kind", "tasks:\n  - {id: a, kind: http}\n", "unknown kind"},
		{"no kind", "tasks:\n  - {id: a}\n", "cannot tell the kind"},
		{"prompt without text", "tasks:\n  - {id: a, kind: prompt}\n", "need prompt"},
		{"bad output", "tasks:\n  - {id: a, run: x, output: xml}\n", "unknown output format"},
		{"negative retries", "tasks:\n  - {id: a, run: x, max_retries: -1}\n", "max_retries"},
		{"stray default", "tasks:\n  - {id: a, run: x, defaults: {b: 1}}\n", "not an optional dependency"},
		{"bad expect", "tasks:\n  - {id: a, run: x, expect: {b: number}}\n", "unknown kind \"number\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadNamesAfterFile(t *testing.T) {
	path := writeWorkflow(t, t.TempDir(), "tasks:\n  - {id: a, run: x}\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Name != "release" || f.Path() != path {
		t.Errorf("name = %q, path = %q", f.Name, f.Path())
	}

	bad := writeWorkflow(t, t.TempDir(), "tasks:\n  - {run: x}\n")
	_, err = Load(bad)
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Source != bad {
		t.Errorf("expected ValidationError naming %s, got %v", bad, err)
	}
}

func TestBuildDescriptors(t *testing.T) {
	f, err := Parse([]byte(releaseWorkflow))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := f.Build(Env{LLM: stubLLM{}, Critical: true, MaxRetries: 5})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reg.Frozen() {
		t.Error("registry is not frozen")
	}

	order, err := reg.ResolveOrder()
	if err != nil {
		t.Fatal(err)
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["version"] > pos["build"] || pos["build"] > pos["notes"] || pos["lint"] > pos["notes"] {
		t.Errorf("order %v violates dependencies", order)
	}

	build, _ := reg.Get("build")
	if build.Critical || build.MaxRetries != 0 || build.Timeout != 5*time.Second {
		t.Errorf("task overrides not applied: %+v", build)
	}
	if build.Backoff.BaseDelay != 10*time.Millisecond {
		t.Errorf("workflow backoff not applied: %+v", build.Backoff)
	}

	notes, _ := reg.Get("notes")
	if !notes.Critical || notes.MaxRetries != 2 || notes.Timeout != time.Minute {
		t.Errorf("workflow defaults not applied: %+v", notes)
	}
	if d, ok := notes.Defaults["lint"]; !ok || !d.Equal(models.Map(map[string]models.Value{"clean": models.Bool(true)})) {
		t.Errorf("optional default not converted: %v", notes.Defaults)
	}

	lint, _ := reg.Get("lint")
	if !lint.RequiresIntervention {
		t.Error("requires_intervention not carried over")
	}
	if want := (models.Backoff{BaseDelay: 10 * time.Millisecond, Multiplier: 5}); lint.Backoff != want {
		t.Errorf("partial task backoff = %+v, want %+v", lint.Backoff, want)
	}
}

func TestBuildFallsBackToEnvDefaults(t *testing.T) {
	f, err := Parse([]byte("tasks:\n  - {id: a, run: x}\n"))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := f.Build(Env{MaxRetries: 4, Critical: true})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := reg.Get("a")
	if a.MaxRetries != 4 || !a.Critical || !a.Backoff.IsZero() {
		t.Errorf("env defaults not applied: %+v", a)
	}
}

func TestBuildErrors(t *testing.T) {
	f, err := Parse([]byte(releaseWorkflow))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Build(Env{}); !errors.Is(err, ErrNoLLM) {
		t.Errorf("expected ErrNoLLM, got %v", err)
	}

	cyclic, err := Parse([]byte("tasks:\n  - {id: a, run: x, depends_on: [b]}\n  - {id: b, run: y, depends_on: [a]}\n"))
	if err != nil {
		t.Fatal(err)
	}
	var cycleErr *registry.CycleError
	if _, err := cyclic.Build(Env{}); !errors.As(err, &cycleErr) {
		t.Errorf("expected CycleError, got %v", err)
	}

	unknown, err := Parse([]byte("tasks:\n  - {id: a, run: x, depends_on: [ghost]}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unknown.Build(Env{}); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected unknown dependency error, got %v", err)
	}

	badTemplate, err := Parse([]byte("tasks:\n  - {id: a, run: \"{{ .Deps\"}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := badTemplate.Build(Env{}); err == nil {
		t.Error("expected template error")
	}
}

func TestWorkdirRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	f, err := Load(writeWorkflow(t, dir, "defaults: {workdir: scripts}\ntasks:\n  - {id: a, run: x}\n  - {id: b, run: y, workdir: /abs}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := f.workdir(f.Tasks[0]); got != filepath.Join(dir, "scripts") {
		t.Errorf("workdir = %q", got)
	}
	if got := f.workdir(f.Tasks[1]); got != "/abs" {
		t.Errorf("workdir = %q", got)
	}

	parsed, _ := Parse([]byte("tasks:\n  - {id: a, run: x}\n"))
	if got := parsed.workdir(parsed.Tasks[0]); got != "" {
		t.Errorf("parsed workflow workdir = %q, want empty", got)
	}
}

func TestWorkflowRunsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, `
name: e2e
globals:
  greeting: hello
tasks:
  - id: seed
    value: {count: 2}
  - id: double
    depends_on: [seed]
    run: echo $(( {{ .Deps.seed.count }} * 2 ))
    output: json
  - id: greet
    depends_on: [double]
    run: echo "{{ .Globals.greeting }} x{{ .Deps.double }}"
  - id: flaky
    run: exit 3
    critical: false
  - id: report
    optional_depends_on: [flaky]
    defaults:
      flaky: fallback
    run: echo "{{ .Deps.flaky }}"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := f.Build(Env{Critical: true})
	if err != nil {
		t.Fatal(err)
	}
	globals, err := f.GlobalValues()
	if err != nil {
		t.Fatal(err)
	}

	coord := orchestrator.New(orchestrator.RequiredConfig{Registry: reg})
	defer coord.Close()
	result, err := coord.Run(context.Background(), globals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("run failed: %+v", result.Errors)
	}

	if v := result.Deliverables["double"]; !v.Equal(models.Int(4)) {
		t.Errorf("double = %v, want 4", v)
	}
	if v := result.Deliverables["greet"]; !v.Equal(models.String("hello x4")) {
		t.Errorf("greet = %v", v)
	}
	if v := result.Deliverables["report"]; !v.Equal(models.String("fallback")) {
		t.Errorf("report = %v", v)
	}
	if len(result.SkippedTasks) != 1 || result.SkippedTasks[0] != "flaky" {
		t.Errorf("skipped = %v, want [flaky]", result.SkippedTasks)
	}
}
