// Package workflow loads workflow definition files and turns them into a
// frozen task registry.
//
// A workflow file is YAML:
//
//	name: release
//	globals:
//	  env: staging
//	defaults:
//	  max_retries: 2
//	  backoff: {base_delay: 1s, multiplier: 2, max_delay: 30s}
//	tasks:
//	  - id: fetch
//	    run: ./fetch.sh
//	    output: json
//	  - id: notes
//	    kind: prompt
//	    depends_on: [fetch]
//	    prompt: "Write release notes for {{ json .Deps.fetch }}"
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/pipewright/internal/tasks"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Task kinds.
const (
	KindCommand = "command"
	KindPrompt  = "prompt"
	KindValue   = "value"
)

// File is a parsed workflow definition.
type File struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Globals     map[string]any `yaml:"globals"`
	Defaults    Defaults       `yaml:"defaults"`
	Tasks       []TaskSpec     `yaml:"tasks"`

	// path is where the file was loaded from, if anywhere.
	path string
}

// Defaults apply to every task that does not set the field itself.
type Defaults struct {
	MaxRetries *int              `yaml:"max_retries"`
	Backoff    *models.Backoff   `yaml:"backoff"`
	Timeout    time.Duration     `yaml:"timeout"`
	Critical   *bool             `yaml:"critical"`
	Workdir    string            `yaml:"workdir"`
	Env        map[string]string `yaml:"env"`
}

// TaskSpec is one task entry.
type TaskSpec struct {
	ID                   string            `yaml:"id"`
	Kind                 string            `yaml:"kind"`
	DependsOn            []string          `yaml:"depends_on"`
	OptionalDependsOn    []string          `yaml:"optional_depends_on"`
	Critical             *bool             `yaml:"critical"`
	MaxRetries           *int              `yaml:"max_retries"`
	Backoff              *models.Backoff   `yaml:"backoff"`
	Timeout              time.Duration     `yaml:"timeout"`
	RequiresIntervention bool              `yaml:"requires_intervention"`
	Defaults             map[string]any    `yaml:"defaults"`
	Expect               map[string]string `yaml:"expect"`
	Output               string            `yaml:"output"`

	// command
	Run      string            `yaml:"run"`
	Fallback string            `yaml:"fallback"`
	Workdir  string            `yaml:"workdir"`
	Env      map[string]string `yaml:"env"`

	// prompt
	Prompt         string `yaml:"prompt"`
	System         string `yaml:"system"`
	FallbackPrompt string `yaml:"fallback_prompt"`
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`

	// value
	Value any `yaml:"value"`
}

// kind returns the task kind, inferring it from the fields when unset.
func (t TaskSpec) kind() string {
	if t.Kind != "" {
		return t.Kind
	}
	switch {
	case t.Prompt != "":
		return KindPrompt
	case t.Run != "":
		return KindCommand
	case t.Value != nil:
		return KindValue
	default:
		return ""
	}
}

// ValidationError lists every problem found in a workflow file.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	src := e.Source
	if src == "" {
		src = "workflow"
	}
	return fmt.Sprintf("%s: %s", src, strings.Join(e.Problems, "; "))
}

// Parse decodes a workflow definition. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("workflow file is empty")
		}
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses a workflow file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			vErr.Source = path
			return nil, vErr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// Path returns where the workflow was loaded from.
func (f *File) Path() string { return f.path }

// Validate checks the per-task rules that do not need the dependency graph.
// Unknown references and cycles are reported by the registry when building.
func (f *File) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(f.Tasks) == 0 {
		addf("no tasks defined")
	}
	if f.Defaults.MaxRetries != nil && *f.Defaults.MaxRetries < 0 {
		addf("defaults.max_retries must not be negative")
	}

	seen := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		name := t.ID
		if name == "" {
			addf("task #%d: id is required", i+1)
			name = fmt.Sprintf("#%d", i+1)
		} else if seen[t.ID] {
			addf("task %s: duplicate id", t.ID)
		}
		seen[t.ID] = true

		switch t.kind() {
		case KindCommand:
			if t.Run == "" {
				addf("task %s: command tasks need run", name)
			}
		case KindPrompt:
			if t.Prompt == "" {
				addf("task %s: prompt tasks need prompt", name)
			}
		case KindValue:
			if t.Value == nil {
				addf("task %s: value tasks need value", name)
			}
		case "":
			addf("task %s: cannot tell the kind (set run, prompt, value or kind)", name)
		default:
			addf("task %s: unknown kind %q", name, t.Kind)
		}

		if _, err := tasks.ParseOutputFormat(t.Output); err != nil {
			addf("task %s: %v", name, err)
		}
		if t.MaxRetries != nil && *t.MaxRetries < 0 {
			addf("task %s: max_retries must not be negative", name)
		}
		if t.Timeout < 0 {
			addf("task %s: timeout must not be negative", name)
		}
		for dep := range t.Defaults {
			if !contains(t.OptionalDependsOn, dep) {
				addf("task %s: default for %s, which is not an optional dependency", name, dep)
			}
		}
		for field, kind := range t.Expect {
			if !models.Kind(kind).Valid() {
				addf("task %s: expect.%s: unknown kind %q", name, field, kind)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// NeedsLLM reports whether any task is a prompt task.
func (f *File) NeedsLLM() bool {
	for _, t := range f.Tasks {
		if t.kind() == KindPrompt {
			return true
		}
	}
	return false
}

// GlobalValues converts the globals section into values for the shared store.
func (f *File) GlobalValues() (map[string]models.Value, error) {
	out := make(map[string]models.Value, len(f.Globals))
	for k, raw := range f.Globals {
		v, err := models.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
