package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFrozen is returned when registering after Freeze.
var ErrFrozen = errors.New("registry is frozen")

// DuplicateIDError is returned when a task ID is registered twice.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("task %s is already registered", e.ID)
}

// MissingDependencyError is returned when a dependency is not registered.
type MissingDependencyError struct {
	ID         string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unregistered task %s", e.ID, e.Dependency)
}

// CycleError is returned when registration would introduce a cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// UnknownTaskError is returned by lookups of unregistered IDs.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %s", e.ID)
}

// InvalidDescriptorError wraps a descriptor that failed structural validation.
type InvalidDescriptorError struct {
	ID  string
	Err error
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor %q: %v", e.ID, e.Err)
}

func (e *InvalidDescriptorError) Unwrap() error { return e.Err }
