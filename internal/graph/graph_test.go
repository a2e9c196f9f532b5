package graph

import (
	"errors"
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, nodes ...Node) *DependencyGraph {
	t.Helper()
	g := New()
	if err := g.Build(nodes); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

// diamond: a -> {b, c} -> d
func diamond(t *testing.T) *DependencyGraph {
	t.Helper()
	return buildGraph(t,
		Node{ID: "a"},
		Node{ID: "b", Dependencies: []string{"a"}},
		Node{ID: "c", Dependencies: []string{"a"}},
		Node{ID: "d", Dependencies: []string{"b", "c"}},
	)
}

func TestAddNode(t *testing.T) {
	g := New()
	if err := g.AddNode("a", nil); err != nil {
		t.Fatalf("AddNode(a) error = %v", err)
	}
	if err := g.AddNode("b", []string{"a"}); err != nil {
		t.Fatalf("AddNode(b) error = %v", err)
	}

	tests := []struct {
		name   string
		id     string
		deps   []string
		target error
	}{
		{"duplicate", "a", nil, ErrDuplicateNode},
		{"forward reference", "c", []string{"d"}, ErrUnknownDependency},
		{"self reference", "c", []string{"c"}, ErrCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddNode(tt.id, tt.deps)
			if !errors.Is(err, tt.target) {
				t.Errorf("AddNode() error = %v, want %v", err, tt.target)
			}
		})
	}

	if g.Size() != 2 {
		t.Errorf("Size() = %d after rejected adds, want 2", g.Size())
	}
}

func TestBuild_BatchForwardReferences(t *testing.T) {
	g := buildGraph(t,
		Node{ID: "report", Dependencies: []string{"fetch"}},
		Node{ID: "fetch"},
	)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	if want := []string{"fetch", "report"}; !reflect.DeepEqual(order, want) {
		t.Errorf("TopologicalSort() = %v, want %v", order, want)
	}
}

func TestBuild_CycleLeavesGraphUnchanged(t *testing.T) {
	g := buildGraph(t, Node{ID: "root"})

	err := g.Build([]Node{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Build() error = %v, want *CycleError", err)
	}
	if len(cycleErr.Path) != 3 || cycleErr.Path[0] != cycleErr.Path[2] {
		t.Errorf("cycle path = %v, want a closed path of length 3", cycleErr.Path)
	}
	if g.HasNode("a") || g.HasNode("b") {
		t.Error("nodes from the rejected batch were registered")
	}
	if g.Size() != 1 {
		t.Errorf("Size() = %d, want 1", g.Size())
	}
}

func TestTopologicalSort_TiesByInsertionOrder(t *testing.T) {
	g := buildGraph(t,
		Node{ID: "z"},
		Node{ID: "y"},
		Node{ID: "x", Dependencies: []string{"y"}},
		Node{ID: "w", Dependencies: []string{"z"}},
	)

	for i := 0; i < 10; i++ {
		order, err := g.TopologicalSort()
		if err != nil {
			t.Fatalf("TopologicalSort() error = %v", err)
		}
		if want := []string{"z", "y", "x", "w"}; !reflect.DeepEqual(order, want) {
			t.Fatalf("TopologicalSort() = %v, want %v", order, want)
		}
	}
}

func TestTopologicalSort_DependenciesFirst(t *testing.T) {
	g := buildGraph(t,
		Node{ID: "e", Dependencies: []string{"d", "b"}},
		Node{ID: "d", Dependencies: []string{"c"}},
		Node{ID: "c", Dependencies: []string{"a"}},
		Node{ID: "b", Dependencies: []string{"a"}},
		Node{ID: "a"},
	)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Dependencies(id) {
			if pos[dep] >= pos[id] {
				t.Errorf("%s appears before its dependency %s in %v", id, dep, order)
			}
		}
	}
}

func TestLevels(t *testing.T) {
	g := diamond(t)

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("Levels() = %v, want %v", levels, want)
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	g := diamond(t)

	if got := g.Ancestors("d"); len(got) != 3 || !got["a"] || !got["b"] || !got["c"] {
		t.Errorf("Ancestors(d) = %v", got)
	}
	if got := g.Descendants("a"); len(got) != 3 || !got["d"] {
		t.Errorf("Descendants(a) = %v", got)
	}
	if got := g.Dependents("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("Dependents(a) = %v", got)
	}
}

func TestIndependent(t *testing.T) {
	g := buildGraph(t,
		Node{ID: "a"},
		Node{ID: "b", Dependencies: []string{"a"}},
		Node{ID: "c", Dependencies: []string{"a"}},
		Node{ID: "d", Dependencies: []string{"b", "c"}},
		Node{ID: "x"},
		Node{ID: "y"},
		Node{ID: "p", Dependencies: []string{"x"}},
		Node{ID: "q", Dependencies: []string{"y"}},
	)

	tests := []struct {
		a, b string
		want bool
	}{
		{"a", "a", false},
		{"a", "b", false}, // path between them
		{"b", "c", false}, // shared dependency a
		{"a", "x", true},
		{"x", "y", true},
		{"p", "q", true},
		{"b", "p", true},
		{"a", "missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := g.Independent(tt.a, tt.b); got != tt.want {
				t.Errorf("Independent(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := g.Independent(tt.b, tt.a); got != tt.want {
				t.Errorf("Independent(%s, %s) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestIndependent_CommonDescendant(t *testing.T) {
	g := buildGraph(t,
		Node{ID: "x"},
		Node{ID: "y"},
		Node{ID: "join", Dependencies: []string{"x", "y"}},
	)
	if g.Independent("x", "y") {
		t.Error("x and y share descendant join and should not be independent")
	}
}
