package tasks

import (
	"context"

	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Value publishes a constant. Useful for seeding a workflow and in tests.
type Value struct {
	v models.Value
}

// NewValue returns a task that always publishes v.
func NewValue(v models.Value) *Value {
	return &Value{v: v.Clone()}
}

// ValidateInput implements task.Task.
func (t *Value) ValidateInput(*task.Input) error { return nil }

// Execute implements task.Task.
func (t *Value) Execute(context.Context, *task.Input) (any, error) {
	return t.v, nil
}

// FormatOutput implements task.Task.
func (t *Value) FormatOutput(raw any) (models.Value, error) {
	if v, ok := raw.(models.Value); ok {
		return v.Clone(), nil
	}
	return models.FromAny(raw)
}

var _ task.Task = (*Value)(nil)
