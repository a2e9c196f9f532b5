package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// RunState is the mutable record of one run. Only the coordinator mutates
// it; callers see immutable snapshots.
type RunState struct {
	mu         sync.RWMutex
	runID      string
	status     models.RunStatus
	order      []string
	tasks      map[string]*models.TaskState
	errors     []models.ErrorRecord
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time
}

// NewRunState creates an idle run with every task pending.
func NewRunState(runID string, order []string) *RunState {
	rs := &RunState{
		runID:  runID,
		status: models.RunStatusIdle,
		order:  append([]string(nil), order...),
		tasks:  make(map[string]*models.TaskState, len(order)),
	}
	for _, id := range order {
		rs.tasks[id] = &models.TaskState{ID: id, Status: models.TaskStatusPending}
	}
	return rs
}

// RestoreRunState rebuilds state from a checkpoint for another pass.
// Succeeded tasks are kept; every other task returns to pending with its
// error history preserved.
func RestoreRunState(snap models.RunSnapshot) *RunState {
	rs := &RunState{
		runID:     snap.RunID,
		status:    models.RunStatusIdle,
		order:     append([]string(nil), snap.Order...),
		tasks:     make(map[string]*models.TaskState, len(snap.Tasks)),
		errors:    append([]models.ErrorRecord(nil), snap.Errors...),
		startedAt: snap.StartedAt,
	}
	for _, ts := range snap.Tasks {
		ts := ts
		if ts.Status != models.TaskStatusSucceeded {
			ts = models.TaskState{ID: ts.ID, Status: models.TaskStatusPending}
		}
		if ts.Output != nil {
			ref := *ts.Output
			ts.Output = &ref
		}
		rs.tasks[ts.ID] = &ts
	}
	for _, id := range rs.order {
		if _, ok := rs.tasks[id]; !ok {
			rs.tasks[id] = &models.TaskState{ID: id, Status: models.TaskStatusPending}
		}
	}
	return rs
}

// RunID returns the run identifier.
func (rs *RunState) RunID() string { return rs.runID }

// Start moves the run to running.
func (rs *RunState) Start(now time.Time) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status = models.RunStatusRunning
	if rs.startedAt.IsZero() {
		rs.startedAt = now
	}
	rs.finishedAt = time.Time{}
}

// Status returns the run status.
func (rs *RunState) Status() models.RunStatus {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.status
}

// Task returns a copy of one task's state.
func (rs *RunState) Task(id string) (models.TaskState, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	ts, ok := rs.tasks[id]
	if !ok {
		return models.TaskState{}, false
	}
	return *ts, true
}

// TaskStatus returns the status of one task, or pending if unknown.
func (rs *RunState) TaskStatus(id string) models.TaskStatus {
	ts, ok := rs.Task(id)
	if !ok {
		return models.TaskStatusPending
	}
	return ts.Status
}

// Pending returns pending task IDs in resolved order.
func (rs *RunState) Pending() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var ids []string
	for _, id := range rs.order {
		if rs.tasks[id].Status == models.TaskStatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

func (rs *RunState) transition(id string, to models.TaskStatus, now time.Time, mutate func(ts *models.TaskState)) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	ts, ok := rs.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	if ts.Status.Terminal() {
		return fmt.Errorf("task %s is already %s, cannot move to %s", id, ts.Status, to)
	}
	if to == models.TaskStatusRunning && ts.Status != models.TaskStatusPending {
		return fmt.Errorf("task %s is %s, cannot start", id, ts.Status)
	}
	ts.Status = to
	if to == models.TaskStatusRunning {
		ts.StartedAt = now
	} else {
		ts.FinishedAt = now
	}
	if mutate != nil {
		mutate(ts)
	}
	return nil
}

// MarkRunning moves a pending task to running.
func (rs *RunState) MarkRunning(id string, now time.Time) error {
	return rs.transition(id, models.TaskStatusRunning, now, nil)
}

// RecordAttempt increments a task's attempt count and returns the new value.
func (rs *RunState) RecordAttempt(id string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ts, ok := rs.tasks[id]
	if !ok {
		return 0
	}
	ts.Attempts++
	return ts.Attempts
}

// RecordError appends to the run's error history.
func (rs *RunState) RecordError(rec models.ErrorRecord) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errors = append(rs.errors, rec)
}

// MarkSucceeded records a published output.
func (rs *RunState) MarkSucceeded(id string, ref models.OutputRef, strategy string, now time.Time) error {
	return rs.transition(id, models.TaskStatusSucceeded, now, func(ts *models.TaskState) {
		ts.Output = &ref
		ts.Strategy = strategy
		ts.Cause = ""
	})
}

// MarkFailed records an unrecoverable failure.
func (rs *RunState) MarkFailed(id, cause, strategy string, now time.Time) error {
	return rs.transition(id, models.TaskStatusFailed, now, func(ts *models.TaskState) {
		ts.Cause = cause
		ts.Strategy = strategy
	})
}

// MarkSkipped records that a task will not produce output.
func (rs *RunState) MarkSkipped(id, cause, strategy string, now time.Time) error {
	return rs.transition(id, models.TaskStatusSkipped, now, func(ts *models.TaskState) {
		ts.Cause = cause
		ts.Strategy = strategy
	})
}

// SetCancelled flags the run as cancelled.
func (rs *RunState) SetCancelled() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.cancelled = true
}

// Cancelled reports whether the run was cancelled.
func (rs *RunState) Cancelled() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.cancelled
}

// Finish moves the run to its terminal status: completed unless the run was
// cancelled or a task failed.
func (rs *RunState) Finish(now time.Time) models.RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	status := models.RunStatusCompleted
	if rs.cancelled {
		status = models.RunStatusAborted
	}
	for _, id := range rs.order {
		if rs.tasks[id].Status == models.TaskStatusFailed {
			status = models.RunStatusAborted
		}
	}
	rs.status = status
	rs.finishedAt = now
	return status
}

// Snapshot returns an immutable copy of the state.
func (rs *RunState) Snapshot() models.RunSnapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	snap := models.RunSnapshot{
		RunID:      rs.runID,
		Status:     rs.status,
		Order:      append([]string(nil), rs.order...),
		Tasks:      make([]models.TaskState, 0, len(rs.order)),
		Errors:     append([]models.ErrorRecord(nil), rs.errors...),
		Cancelled:  rs.cancelled,
		StartedAt:  rs.startedAt,
		FinishedAt: rs.finishedAt,
	}
	for _, id := range rs.order {
		ts := *rs.tasks[id]
		if ts.Output != nil {
			ref := *ts.Output
			ts.Output = &ref
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	return snap
}
