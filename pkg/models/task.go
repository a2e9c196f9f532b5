package models

import (
	"errors"
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task within a run.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates an attempt is in flight.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task published its output.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed and could not be recovered.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the task was not run or was given up on without aborting.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true once the task can no longer change state within the run.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusSkipped
}

// ErrorKind tags a task failure and drives the recovery policy.
type ErrorKind string

const (
	// ErrorKindValidation marks an input contract violation. Never retried.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindTransient marks a failure that may succeed on retry.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent marks a failure that short-circuits retries.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindTimeout marks an attempt that exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"
)

// Valid returns true if the kind is a known value.
func (k ErrorKind) Valid() bool {
	switch k {
	case ErrorKindValidation, ErrorKindTransient, ErrorKindPermanent, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// Retryable reports whether another attempt may be made after this kind of failure.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTransient || k == ErrorKindTimeout
}

// Backoff describes the delay schedule between attempts.
// The delay before attempt n+1 is BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type Backoff struct {
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// Multiplier scales the delay after every further failure. Zero means "use the default".
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	// MaxDelay caps a single delay. Zero means "use the default"; a zero
	// default leaves delays uncapped.
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay"`
}

// IsZero returns true if no field was set.
func (b Backoff) IsZero() bool {
	return b.BaseDelay == 0 && b.Multiplier == 0 && b.MaxDelay == 0
}

// WithDefaults fills each unset field from def.
func (b Backoff) WithDefaults(def Backoff) Backoff {
	if b.BaseDelay == 0 {
		b.BaseDelay = def.BaseDelay
	}
	if b.Multiplier == 0 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxDelay == 0 {
		b.MaxDelay = def.MaxDelay
	}
	return b
}

// TaskDescriptor is the static definition of a task.
// It is immutable once registered.
type TaskDescriptor struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Dependencies lists task IDs whose output this task requires.
	Dependencies []string `json:"dependencies,omitempty"`
	// OptionalDependencies lists task IDs whose output is used when present.
	// A non-critical optional dependency that ends up skipped is replaced by
	// the matching entry in Defaults (or a null value).
	OptionalDependencies []string `json:"optional_dependencies,omitempty"`
	// Critical marks a task whose unrecoverable failure aborts the run.
	Critical bool `json:"critical"`
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int `json:"max_retries"`
	// Backoff is the retry delay schedule. Unset fields use the coordinator default.
	Backoff Backoff `json:"backoff"`
	// Timeout bounds a single attempt. Zero uses the coordinator default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RequiresIntervention asks the user before aborting on this task's failure.
	RequiresIntervention bool `json:"requires_intervention,omitempty"`
	// Defaults holds substitute values for absent optional dependencies.
	Defaults map[string]Value `json:"defaults,omitempty"`
}

// AllDependencies returns required and optional dependencies, in declaration order.
func (d TaskDescriptor) AllDependencies() []string {
	all := make([]string, 0, len(d.Dependencies)+len(d.OptionalDependencies))
	all = append(all, d.Dependencies...)
	all = append(all, d.OptionalDependencies...)
	return all
}

// IsOptional reports whether depID is declared as an optional dependency.
func (d TaskDescriptor) IsOptional(depID string) bool {
	for _, id := range d.OptionalDependencies {
		if id == depID {
			return true
		}
	}
	return false
}

// Validate checks the structural rules of a descriptor.
// Cross-task rules (unknown dependencies, cycles) are checked by the registry.
func (d TaskDescriptor) Validate() error {
	if d.ID == "" {
		return errors.New("task id is required")
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("task %s: max_retries must be >= 0, got %d", d.ID, d.MaxRetries)
	}
	if d.Backoff.BaseDelay < 0 || d.Backoff.MaxDelay < 0 {
		return fmt.Errorf("task %s: backoff delays must not be negative", d.ID)
	}
	if d.Backoff.Multiplier != 0 && d.Backoff.Multiplier < 1 {
		return fmt.Errorf("task %s: backoff multiplier must be >= 1, got %g", d.ID, d.Backoff.Multiplier)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("task %s: timeout must not be negative", d.ID)
	}

	seen := make(map[string]bool)
	for _, dep := range d.AllDependencies() {
		if dep == "" {
			return fmt.Errorf("task %s: empty dependency id", d.ID)
		}
		if seen[dep] {
			return fmt.Errorf("task %s: dependency %s declared twice", d.ID, dep)
		}
		seen[dep] = true
	}
	for id := range d.Defaults {
		if !d.IsOptional(id) {
			return fmt.Errorf("task %s: default given for %s which is not an optional dependency", d.ID, id)
		}
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d TaskDescriptor) Clone() TaskDescriptor {
	c := d
	c.Dependencies = append([]string(nil), d.Dependencies...)
	c.OptionalDependencies = append([]string(nil), d.OptionalDependencies...)
	if d.Defaults != nil {
		c.Defaults = make(map[string]Value, len(d.Defaults))
		for k, v := range d.Defaults {
			c.Defaults[k] = v.Clone()
		}
	}
	return c
}
