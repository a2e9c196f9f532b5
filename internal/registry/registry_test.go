package registry

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

func noop() task.Task { return &task.Funcs{} }

func desc(id string, deps ...string) models.TaskDescriptor {
	return models.TaskDescriptor{ID: id, Dependencies: deps}
}

func mustRegister(t *testing.T, r *Registry, d models.TaskDescriptor) {
	t.Helper()
	if err := r.Register(d, noop()); err != nil {
		t.Fatalf("Register(%s) error = %v", d.ID, err)
	}
}

func TestRegister_Errors(t *testing.T) {
	r := New()
	mustRegister(t, r, desc("a"))

	tests := []struct {
		name  string
		desc  models.TaskDescriptor
		check func(error) bool
	}{
		{
			name: "duplicate id",
			desc: desc("a"),
			check: func(err error) bool {
				var e *DuplicateIDError
				return errors.As(err, &e) && e.ID == "a"
			},
		},
		{
			name: "forward reference",
			desc: desc("b", "c"),
			check: func(err error) bool {
				var e *MissingDependencyError
				return errors.As(err, &e) && e.ID == "b" && e.Dependency == "c"
			},
		},
		{
			name: "optional forward reference",
			desc: models.TaskDescriptor{ID: "b", OptionalDependencies: []string{"zz"}},
			check: func(err error) bool {
				var e *MissingDependencyError
				return errors.As(err, &e)
			},
		},
		{
			name: "self reference",
			desc: desc("b", "b"),
			check: func(err error) bool {
				var e *CycleError
				return errors.As(err, &e)
			},
		},
		{
			name: "invalid descriptor",
			desc: models.TaskDescriptor{ID: "b", MaxRetries: -2},
			check: func(err error) bool {
				var e *InvalidDescriptorError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.desc, noop())
			if !tt.check(err) {
				t.Errorf("Register() error = %v (%T)", err, err)
			}
		})
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after failed registrations", r.Len())
	}
}

func TestRegister_NilTask(t *testing.T) {
	r := New()
	var e *InvalidDescriptorError
	if err := r.Register(desc("a"), nil); !errors.As(err, &e) {
		t.Errorf("Register(nil task) error = %v", err)
	}
}

func TestRegisterAll_CycleRegistersNeither(t *testing.T) {
	r := New()
	err := r.RegisterAll([]Definition{
		{Descriptor: desc("a", "b"), Task: noop()},
		{Descriptor: desc("b", "a"), Task: noop()},
	})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("RegisterAll() error = %v, want *CycleError", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	for _, id := range []string{"a", "b"} {
		var unknown *UnknownTaskError
		if _, err := r.Get(id); !errors.As(err, &unknown) {
			t.Errorf("Get(%s) error = %v, want *UnknownTaskError", id, err)
		}
	}
}

func TestRegisterAll_AnyOrder(t *testing.T) {
	r := New()
	err := r.RegisterAll([]Definition{
		{Descriptor: desc("d", "b", "c"), Task: noop()},
		{Descriptor: desc("b", "a"), Task: noop()},
		{Descriptor: desc("c", "a"), Task: noop()},
		{Descriptor: desc("a"), Task: noop()},
	})
	if err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}

	order, err := r.ResolveOrder()
	if err != nil {
		t.Fatalf("ResolveOrder() error = %v", err)
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(order, want) {
		t.Errorf("ResolveOrder() = %v, want %v", order, want)
	}
}

func TestRegisterAll_DuplicateInBatch(t *testing.T) {
	r := New()
	err := r.RegisterAll([]Definition{
		{Descriptor: desc("a"), Task: noop()},
		{Descriptor: desc("a"), Task: noop()},
	})
	var dup *DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("RegisterAll() error = %v, want *DuplicateIDError", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestResolveOrder_StableAndRestartable(t *testing.T) {
	r := New()
	mustRegister(t, r, desc("a"))
	mustRegister(t, r, desc("b", "a"))
	mustRegister(t, r, desc("c", "a"))
	mustRegister(t, r, desc("d", "b", "c"))

	first, err := r.ResolveOrder()
	if err != nil {
		t.Fatalf("ResolveOrder() error = %v", err)
	}
	first[0] = "mutated"

	for i := 0; i < 5; i++ {
		got, err := r.ResolveOrder()
		if err != nil {
			t.Fatalf("ResolveOrder() error = %v", err)
		}
		if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("ResolveOrder() = %v, want %v", got, want)
		}
	}
}

func TestFreeze(t *testing.T) {
	r := New()
	mustRegister(t, r, desc("a"))
	r.Freeze()

	if !r.Frozen() {
		t.Fatal("Frozen() = false after Freeze")
	}
	if err := r.Register(desc("b"), noop()); !errors.Is(err, ErrFrozen) {
		t.Errorf("Register() after Freeze error = %v, want ErrFrozen", err)
	}
	if err := r.RegisterAll([]Definition{{Descriptor: desc("c"), Task: noop()}}); !errors.Is(err, ErrFrozen) {
		t.Errorf("RegisterAll() after Freeze error = %v, want ErrFrozen", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	mustRegister(t, r, desc("a"))
	mustRegister(t, r, desc("b", "a"))

	d, err := r.Get("b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	d.Dependencies[0] = "zz"

	again, _ := r.Get("b")
	if again.Dependencies[0] != "a" {
		t.Errorf("registered descriptor was mutated: %v", again.Dependencies)
	}
}

func TestValidateSetup(t *testing.T) {
	r := New()
	report := r.ValidateSetup()
	if !report.Valid || len(report.Warnings) == 0 {
		t.Errorf("empty registry report = %+v", report)
	}

	mustRegister(t, r, models.TaskDescriptor{ID: "a", Critical: true})
	mustRegister(t, r, models.TaskDescriptor{ID: "b", OptionalDependencies: []string{"a"}, RequiresIntervention: true})
	r.Freeze()

	report = r.ValidateSetup()
	if !report.Valid {
		t.Errorf("Valid = false, errors = %v", report.Errors)
	}
	if report.TaskCount != 2 {
		t.Errorf("TaskCount = %d, want 2", report.TaskCount)
	}
	if !reflect.DeepEqual(report.ExecutionOrder, []string{"a", "b"}) {
		t.Errorf("ExecutionOrder = %v", report.ExecutionOrder)
	}
	if len(report.Levels) != 2 {
		t.Errorf("Levels = %v", report.Levels)
	}

	joined := strings.Join(report.Warnings, "\n")
	for _, want := range []string{"optional dependency a is critical", "requires_intervention"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings %q missing %q", joined, want)
		}
	}
}
