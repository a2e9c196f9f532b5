package workflow

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ShayCichocki/pipewright/internal/exec"
	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/registry"
	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/internal/tasks"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// ErrNoLLM is returned when a workflow has prompt tasks but no LLM client was supplied.
var ErrNoLLM = errors.New("workflow has prompt tasks but no LLM client is configured")

// Env supplies what task implementations need at build time.
type Env struct {
	// Runner executes command tasks. Nil uses the os/exec runner.
	Runner exec.CommandRunner
	// LLM completes prompt tasks. Required only if the workflow has any.
	LLM llm.Completer
	// MaxRetries applies to tasks when neither the task nor the workflow
	// defaults set max_retries.
	MaxRetries int
	// Critical applies when neither the task nor the workflow defaults set it.
	Critical bool
	// Logf receives dependency-graph traces while the registry is built.
	Logf func(format string, args ...interface{})
}

// Build creates every task, registers them as one batch and freezes the
// registry. Tasks may reference each other in any order.
func (f *File) Build(env Env) (*registry.Registry, error) {
	if f.NeedsLLM() && env.LLM == nil {
		return nil, ErrNoLLM
	}
	if env.Runner == nil {
		env.Runner = exec.NewRunner()
	}

	defs := make([]registry.Definition, 0, len(f.Tasks))
	for _, spec := range f.Tasks {
		desc, err := f.descriptor(spec, env)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", spec.ID, err)
		}
		impl, err := f.implementation(spec, env)
		if err != nil {
			return nil, err
		}
		defs = append(defs, registry.Definition{Descriptor: desc, Task: impl})
	}

	reg := registry.New()
	reg.SetDebugLog(env.Logf)
	if err := reg.RegisterAll(defs); err != nil {
		return nil, fmt.Errorf("registering workflow %s: %w", f.Name, err)
	}
	reg.Freeze()
	return reg, nil
}

func (f *File) descriptor(spec TaskSpec, env Env) (models.TaskDescriptor, error) {
	desc := models.TaskDescriptor{
		ID:                   spec.ID,
		Dependencies:         spec.DependsOn,
		OptionalDependencies: spec.OptionalDependsOn,
		Critical:             env.Critical,
		MaxRetries:           env.MaxRetries,
		Timeout:              f.Defaults.Timeout,
		RequiresIntervention: spec.RequiresIntervention,
	}

	switch {
	case spec.Critical != nil:
		desc.Critical = *spec.Critical
	case f.Defaults.Critical != nil:
		desc.Critical = *f.Defaults.Critical
	}
	switch {
	case spec.MaxRetries != nil:
		desc.MaxRetries = *spec.MaxRetries
	case f.Defaults.MaxRetries != nil:
		desc.MaxRetries = *f.Defaults.MaxRetries
	}
	if spec.Backoff != nil {
		desc.Backoff = *spec.Backoff
	}
	if f.Defaults.Backoff != nil {
		desc.Backoff = desc.Backoff.WithDefaults(*f.Defaults.Backoff)
	}
	if spec.Timeout > 0 {
		desc.Timeout = spec.Timeout
	}

	if len(spec.Defaults) > 0 {
		desc.Defaults = make(map[string]models.Value, len(spec.Defaults))
		for dep, raw := range spec.Defaults {
			v, err := models.FromAny(raw)
			if err != nil {
				return models.TaskDescriptor{}, fmt.Errorf("default for %s: %w", dep, err)
			}
			desc.Defaults[dep] = v
		}
	}
	return desc, nil
}

func (f *File) implementation(spec TaskSpec, env Env) (task.Task, error) {
	expect := make(models.Schema, len(spec.Expect))
	for field, kind := range spec.Expect {
		expect[field] = models.Kind(kind)
	}
	output := tasks.OutputFormat(spec.Output)

	switch spec.kind() {
	case KindCommand:
		return tasks.NewCommand(tasks.CommandConfig{
			ID:       spec.ID,
			Run:      spec.Run,
			Fallback: spec.Fallback,
			Dir:      f.workdir(spec),
			Env:      mergeEnv(f.Defaults.Env, spec.Env),
			Output:   output,
			Expect:   expect,
			Runner:   env.Runner,
		})
	case KindPrompt:
		return tasks.NewPrompt(tasks.PromptConfig{
			ID:             spec.ID,
			Prompt:         spec.Prompt,
			System:         spec.System,
			FallbackPrompt: spec.FallbackPrompt,
			Model:          spec.Model,
			MaxTokens:      spec.MaxTokens,
			Output:         output,
			Expect:         expect,
			Client:         env.LLM,
		})
	case KindValue:
		v, err := models.FromAny(spec.Value)
		if err != nil {
			return nil, fmt.Errorf("task %s: value: %w", spec.ID, err)
		}
		return tasks.NewValue(v), nil
	default:
		return nil, fmt.Errorf("task %s: unknown kind %q", spec.ID, spec.Kind)
	}
}

// workdir resolves a task's working directory. Relative paths are taken
// from the workflow file's directory.
func (f *File) workdir(spec TaskSpec) string {
	dir := spec.Workdir
	if dir == "" {
		dir = f.Defaults.Workdir
	}
	if f.path == "" || filepath.IsAbs(dir) {
		return dir
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(filepath.Dir(f.path), dir)
}

func mergeEnv(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
