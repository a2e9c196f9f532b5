// Package graph provides a dependency graph for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates an edge points at a node that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateNode indicates a node ID was added twice.
	ErrDuplicateNode = errors.New("duplicate node")
)

// CycleError describes the cycle that would have been introduced.
type CycleError struct {
	// Path lists the nodes on the cycle, starting and ending with the same ID.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// UnknownDependencyError names the node and the edge that could not be resolved.
type UnknownDependencyError struct {
	ID  string
	Dep string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.ID, e.Dep)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

// DuplicateNodeError names the node that already exists.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("task %s already exists", e.ID)
}

func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

// Node is a node and the IDs it depends on.
type Node struct {
	ID           string
	Dependencies []string
}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Edges point from a task to the tasks it depends on. The graph remembers
// insertion order, which is used to break ties when sorting.
type DependencyGraph struct {
	mu sync.RWMutex
	// order holds node IDs in insertion order.
	order []string
	// index maps node ID to its position in order.
	index map[string]int
	// edges maps node ID to the IDs it depends on.
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index:    make(map[string]int),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddNode adds a single node whose dependencies must already be present.
func (g *DependencyGraph) AddNode(id string, deps []string) error {
	return g.Build([]Node{{ID: id, Dependencies: deps}})
}

// Build adds a batch of nodes. Members of the batch may depend on each other
// in any order. If any node is a duplicate, references an unknown node or
// closes a cycle, the graph is left unchanged.
func (g *DependencyGraph) Build(nodes []Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] adding %d nodes to graph of %d", len(nodes), len(g.order))

	batch := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if _, exists := g.index[n.ID]; exists || batch[n.ID] {
			return &DuplicateNodeError{ID: n.ID}
		}
		batch[n.ID] = true
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return &CycleError{Path: []string{n.ID, n.ID}}
			}
			if _, exists := g.index[dep]; !exists && !batch[dep] {
				return &UnknownDependencyError{ID: n.ID, Dep: dep}
			}
		}
	}

	// Existing nodes never depend on new ones, so any cycle must run through the batch.
	pending := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		pending[n.ID] = n.Dependencies
	}
	lookup := func(id string) []string {
		if deps, ok := pending[id]; ok {
			return deps
		}
		return g.edges[id]
	}
	for _, n := range nodes {
		if path := findCycle(n.ID, lookup); path != nil {
			g.debugLog("[graph.Build] cycle detected: %v", path)
			return &CycleError{Path: path}
		}
	}

	for _, n := range nodes {
		g.index[n.ID] = len(g.order)
		g.order = append(g.order, n.ID)
		g.edges[n.ID] = append([]string(nil), n.Dependencies...)
	}

	g.debugLog("[graph.Build] graph now has %d nodes", len(g.order))
	return nil
}

// findCycle runs a depth-first search from start using white/gray/black
// colouring and returns the first cycle found, or nil.
func findCycle(start string, deps func(string) []string) []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, dep := range deps(id) {
			switch colors[dep] {
			case gray:
				// Back edge. The cycle is the stack from dep onwards.
				for i, s := range stack {
					if s == dep {
						path := append([]string(nil), stack[i:]...)
						return append(path, dep)
					}
				}
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}
	return visit(start)
}

// HasNode reports whether id is in the graph.
func (g *DependencyGraph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// IDs returns node IDs in insertion order.
func (g *DependencyGraph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// TopologicalSort returns node IDs in an order where all dependencies come
// before their dependents. Among nodes that are ready at the same time the
// one inserted first wins, so the result is deterministic.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		remaining[id] = len(g.edges[id])
		for _, dep := range g.edges[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// ready is kept sorted by insertion index.
	var ready []int
	for i, id := range g.order {
		if remaining[id] == 0 {
			ready = append(ready, i)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		next := g.order[ready[0]]
		ready = ready[1:]
		result = append(result, next)

		for _, d := range dependents[next] {
			remaining[d]--
			if remaining[d] == 0 {
				idx := g.index[d]
				pos := sort.SearchInts(ready, idx)
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = idx
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, ErrCycleDetected
	}
	return result, nil
}

// Levels groups nodes into waves: every node sits one level above its deepest
// dependency. Nodes within a level keep insertion order.
func (g *DependencyGraph) Levels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := make(map[string]int, len(order))
	maxDepth := -1
	for _, id := range order {
		d := 0
		for _, dep := range g.edges[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range g.order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels, nil
}

// Dependencies returns the IDs the given node depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the IDs of nodes that depend directly on the given node,
// in insertion order.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, other := range g.order {
		for _, dep := range g.edges[other] {
			if dep == id {
				dependents = append(dependents, other)
				break
			}
		}
	}
	return dependents
}

// Ancestors returns every node the given node transitively depends on.
func (g *DependencyGraph) Ancestors(id string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ancestorsLocked(id)
}

func (g *DependencyGraph) ancestorsLocked(id string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.edges[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.edges[n]...)
	}
	return seen
}

// Descendants returns every node that transitively depends on the given node.
func (g *DependencyGraph) Descendants(id string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.descendantsLocked(id)
}

func (g *DependencyGraph) descendantsLocked(id string) map[string]bool {
	reverse := make(map[string][]string, len(g.order))
	for _, n := range g.order {
		for _, dep := range g.edges[n] {
			reverse[dep] = append(reverse[dep], n)
		}
	}

	seen := make(map[string]bool)
	stack := append([]string(nil), reverse[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, reverse[n]...)
	}
	return seen
}

// Independent reports whether a and b may execute concurrently: neither
// reaches the other, their direct dependency sets are disjoint and no node
// depends on both.
func (g *DependencyGraph) Independent(a, b string) bool {
	if a == b {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.index[a]; !ok {
		return false
	}
	if _, ok := g.index[b]; !ok {
		return false
	}

	depsA := make(map[string]bool, len(g.edges[a]))
	for _, dep := range g.edges[a] {
		depsA[dep] = true
	}
	for _, dep := range g.edges[b] {
		if depsA[dep] {
			return false
		}
	}

	descA := g.descendantsLocked(a)
	if descA[b] {
		return false
	}
	descB := g.descendantsLocked(b)
	if descB[a] {
		return false
	}
	for n := range descA {
		if descB[n] {
			return false
		}
	}
	return true
}
