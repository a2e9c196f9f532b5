// Package registry holds task definitions and computes their execution order.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/pipewright/internal/graph"
	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Definition pairs a descriptor with its implementation.
type Definition struct {
	Descriptor models.TaskDescriptor
	Task       task.Task
}

// Registry holds task definitions. It is populated during a setup phase,
// frozen, and then shared read-only by coordinators.
type Registry struct {
	mu     sync.RWMutex
	graph  *graph.DependencyGraph
	descs  map[string]models.TaskDescriptor
	tasks  map[string]task.Task
	frozen bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		graph: graph.New(),
		descs: make(map[string]models.TaskDescriptor),
		tasks: make(map[string]task.Task),
	}
}

// SetDebugLog routes the dependency graph's trace output to fn.
func (r *Registry) SetDebugLog(fn func(format string, args ...interface{})) {
	r.graph.SetDebugLog(fn)
}

// Register adds a single task. Every dependency must already be registered.
func (r *Registry) Register(desc models.TaskDescriptor, t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(desc, t); err != nil {
		return err
	}
	for _, dep := range desc.AllDependencies() {
		if dep == desc.ID {
			return &CycleError{Path: []string{desc.ID, desc.ID}}
		}
		if _, ok := r.descs[dep]; !ok {
			return &MissingDependencyError{ID: desc.ID, Dependency: dep}
		}
	}

	if err := r.graph.AddNode(desc.ID, desc.AllDependencies()); err != nil {
		return translateGraphError(err)
	}
	r.descs[desc.ID] = desc.Clone()
	r.tasks[desc.ID] = t
	return nil
}

// RegisterAll adds a batch of tasks atomically. Members may reference each
// other regardless of order; on any error nothing is registered.
func (r *Registry) RegisterAll(defs []Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]bool, len(defs))
	nodes := make([]graph.Node, 0, len(defs))
	for _, def := range defs {
		if err := r.checkLocked(def.Descriptor, def.Task); err != nil {
			return err
		}
		if batch[def.Descriptor.ID] {
			return &DuplicateIDError{ID: def.Descriptor.ID}
		}
		batch[def.Descriptor.ID] = true
		nodes = append(nodes, graph.Node{ID: def.Descriptor.ID, Dependencies: def.Descriptor.AllDependencies()})
	}

	if err := r.graph.Build(nodes); err != nil {
		return translateGraphError(err)
	}
	for _, def := range defs {
		r.descs[def.Descriptor.ID] = def.Descriptor.Clone()
		r.tasks[def.Descriptor.ID] = def.Task
	}
	return nil
}

// checkLocked runs checks shared by Register and RegisterAll.
func (r *Registry) checkLocked(desc models.TaskDescriptor, t task.Task) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := desc.Validate(); err != nil {
		return &InvalidDescriptorError{ID: desc.ID, Err: err}
	}
	if t == nil {
		return &InvalidDescriptorError{ID: desc.ID, Err: errors.New("task implementation is nil")}
	}
	if _, exists := r.descs[desc.ID]; exists {
		return &DuplicateIDError{ID: desc.ID}
	}
	return nil
}

func translateGraphError(err error) error {
	var cycleErr *graph.CycleError
	var unknownErr *graph.UnknownDependencyError
	var dupErr *graph.DuplicateNodeError
	switch {
	case errors.As(err, &cycleErr):
		return &CycleError{Path: cycleErr.Path}
	case errors.As(err, &unknownErr):
		return &MissingDependencyError{ID: unknownErr.ID, Dependency: unknownErr.Dep}
	case errors.As(err, &dupErr):
		return &DuplicateIDError{ID: dupErr.ID}
	default:
		return fmt.Errorf("register: %w", err)
	}
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// ResolveOrder returns the execution order: dependencies first, ties broken
// by registration order. Each call returns a fresh slice.
func (r *Registry) ResolveOrder() ([]string, error) {
	return r.graph.TopologicalSort()
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (models.TaskDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.descs[id]
	if !ok {
		return models.TaskDescriptor{}, &UnknownTaskError{ID: id}
	}
	return desc.Clone(), nil
}

// Task returns the implementation registered for id.
func (r *Registry) Task(id string) (task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, &UnknownTaskError{ID: id}
	}
	return t, nil
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descs)
}

// IDs returns task IDs in registration order.
func (r *Registry) IDs() []string {
	return r.graph.IDs()
}

// Graph exposes the dependency graph for scheduling queries.
func (r *Registry) Graph() *graph.DependencyGraph {
	return r.graph
}
