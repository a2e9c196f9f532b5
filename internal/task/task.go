// Package task defines the capability contract every orchestrated task implements.
package task

import (
	"context"
	"sort"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Task is the unit of orchestrated work. The coordinator is the only caller.
type Task interface {
	// ValidateInput checks the input contract. It must not mutate state.
	// A non-nil error is treated as a validation failure and is never retried.
	ValidateInput(in *Input) error
	// Execute performs the work and returns a raw result.
	Execute(ctx context.Context, in *Input) (any, error)
	// FormatOutput turns a raw result into the value published to the store.
	// It must be pure: the same raw result always yields an equal value.
	FormatOutput(raw any) (models.Value, error)
}

// Fallback is implemented by tasks that offer an alternative execution path.
// The coordinator calls it once, with a relaxed input, after a critical task
// has exhausted its retries.
type Fallback interface {
	ExecuteFallback(ctx context.Context, in *Input) (any, error)
}

// Input is the context handed to a task. It holds copies of the values the
// task declared, never live references into the shared store.
type Input struct {
	RunID   string
	TaskID  string
	Attempt int
	// Relaxed is set on the fallback pass.
	Relaxed bool

	deps    map[string]models.Value
	missing map[string]bool
	globals map[string]models.Value
}

// NewInput builds an input. Maps are copied.
func NewInput(runID, taskID string, deps, globals map[string]models.Value, missing []string) *Input {
	in := &Input{
		RunID:   runID,
		TaskID:  taskID,
		deps:    make(map[string]models.Value, len(deps)),
		missing: make(map[string]bool, len(missing)),
		globals: make(map[string]models.Value, len(globals)),
	}
	for k, v := range deps {
		in.deps[k] = v.Clone()
	}
	for k, v := range globals {
		in.globals[k] = v.Clone()
	}
	for _, id := range missing {
		in.missing[id] = true
	}
	return in
}

// Dependency returns the output of a declared dependency. For a missing
// optional dependency this is its default value.
func (in *Input) Dependency(id string) (models.Value, bool) {
	v, ok := in.deps[id]
	return v, ok
}

// Missing reports whether an optional dependency was skipped and substituted.
func (in *Input) Missing(id string) bool {
	return in.missing[id]
}

// Dependencies returns a copy of every dependency value keyed by task ID.
func (in *Input) Dependencies() map[string]models.Value {
	out := make(map[string]models.Value, len(in.deps))
	for k, v := range in.deps {
		out[k] = v
	}
	return out
}

// DependencyIDs returns the IDs of available dependencies, sorted.
func (in *Input) DependencyIDs() []string {
	ids := make([]string, 0, len(in.deps))
	for id := range in.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Global returns a run-wide value.
func (in *Input) Global(key string) (models.Value, bool) {
	v, ok := in.globals[key]
	return v, ok
}

// Globals returns a copy of all run-wide values.
func (in *Input) Globals() map[string]models.Value {
	out := make(map[string]models.Value, len(in.globals))
	for k, v := range in.globals {
		out[k] = v
	}
	return out
}

// WithAttempt returns a shallow copy of the input for another attempt.
func (in *Input) WithAttempt(attempt int, relaxed bool) *Input {
	c := *in
	c.Attempt = attempt
	c.Relaxed = relaxed
	return &c
}

// Funcs adapts plain functions into a Task. Validate and Format are optional;
// a missing Format publishes the raw result converted with models.FromAny.
type Funcs struct {
	Validate func(in *Input) error
	Run      func(ctx context.Context, in *Input) (any, error)
	Format   func(raw any) (models.Value, error)
	// Fallback, when set, makes the adapter usable as a Fallback.
	Fallback func(ctx context.Context, in *Input) (any, error)
}

// ValidateInput implements Task.
func (f *Funcs) ValidateInput(in *Input) error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(in)
}

// Execute implements Task.
func (f *Funcs) Execute(ctx context.Context, in *Input) (any, error) {
	if f.Run == nil {
		return nil, nil
	}
	return f.Run(ctx, in)
}

// FormatOutput implements Task.
func (f *Funcs) FormatOutput(raw any) (models.Value, error) {
	if f.Format != nil {
		return f.Format(raw)
	}
	return models.FromAny(raw)
}

// ExecuteFallback implements Fallback. Without a fallback function it fails permanently.
func (f *Funcs) ExecuteFallback(ctx context.Context, in *Input) (any, error) {
	if f.Fallback == nil {
		return nil, Permanentf("task %s has no fallback", in.TaskID)
	}
	return f.Fallback(ctx, in)
}

// HasFallback reports whether the adapter was given a fallback function.
func (f *Funcs) HasFallback() bool {
	return f.Fallback != nil
}

// fallbackSwitch is implemented by tasks whose fallback path is configured
// per instance.
type fallbackSwitch interface {
	HasFallback() bool
}

// HasFallback reports whether t offers a usable fallback path.
func HasFallback(t Task) bool {
	if _, ok := t.(Fallback); !ok {
		return false
	}
	if s, ok := t.(fallbackSwitch); ok {
		return s.HasFallback()
	}
	return true
}

// Compile-time interface checks.
var (
	_ Task     = (*Funcs)(nil)
	_ Fallback = (*Funcs)(nil)
)
