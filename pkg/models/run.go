package models

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a whole run.
type RunStatus string

const (
	// RunStatusIdle indicates the run has not started.
	RunStatusIdle RunStatus = "idle"
	// RunStatusRunning indicates tasks are being dispatched.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the run finished without a critical failure.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusAborted indicates the run stopped early or a critical task failed.
	RunStatusAborted RunStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusIdle, RunStatusRunning, RunStatusCompleted, RunStatusAborted:
		return true
	default:
		return false
	}
}

// Terminal returns true once the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted
}

// ErrorRecord captures a single failed attempt.
type ErrorRecord struct {
	TaskID    string    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OutputRef points at a task's published output in the shared store.
type OutputRef struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

// Recovery strategies recorded on a task state.
const (
	StrategyRetry        = "retry"
	StrategyFallback     = "fallback"
	StrategySkip         = "skip"
	StrategyIntervention = "intervention"
	StrategyAbort        = "abort"
)

// TaskState is the per-run mutable state of one task.
type TaskState struct {
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	// Cause explains why a task was skipped or failed.
	Cause string `json:"cause,omitempty"`
	// Strategy names the recovery strategy that decided the final status.
	Strategy string     `json:"strategy,omitempty"`
	Output   *OutputRef `json:"output,omitempty"`
}

// Duration returns the wall time spent on the task, or zero if it never ran.
func (s TaskState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// RunSnapshot is an immutable copy of a run's state.
type RunSnapshot struct {
	RunID      string        `json:"run_id"`
	Status     RunStatus     `json:"status"`
	Order      []string      `json:"order"`
	Tasks      []TaskState   `json:"tasks"`
	Errors     []ErrorRecord `json:"errors,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// Task returns the state of one task.
func (s RunSnapshot) Task(id string) (TaskState, bool) {
	for _, ts := range s.Tasks {
		if ts.ID == id {
			return ts, true
		}
	}
	return TaskState{}, false
}

// TasksWithStatus returns task IDs with the given status, in resolved order.
func (s RunSnapshot) TasksWithStatus(status TaskStatus) []string {
	var ids []string
	for _, ts := range s.Tasks {
		if ts.Status == status {
			ids = append(ids, ts.ID)
		}
	}
	return ids
}

// ErrorsFor returns the error history of one task, oldest first.
func (s RunSnapshot) ErrorsFor(taskID string) []ErrorRecord {
	var out []ErrorRecord
	for _, e := range s.Errors {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// RunResult is returned to the caller when a run ends.
type RunResult struct {
	RunID          string           `json:"run_id"`
	Success        bool             `json:"success"`
	Status         RunStatus        `json:"status"`
	CompletedTasks []string         `json:"completed_tasks"`
	FailedTasks    []string         `json:"failed_tasks"`
	SkippedTasks   []string         `json:"skipped_tasks"`
	Deliverables   map[string]Value `json:"deliverables"`
	Errors         []ErrorRecord    `json:"errors,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	State          RunSnapshot      `json:"state"`
}

// Duration returns the total run time.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Progress summarizes how far a run has got.
type Progress struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Running    int       `json:"running"`
	Pending    int       `json:"pending"`
	Percentage float64   `json:"percentage"`
}

// Done returns the number of tasks in a terminal state.
func (p Progress) Done() int {
	return p.Succeeded + p.Failed + p.Skipped
}

// String renders a one-line progress summary.
func (p Progress) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d tasks done (%.0f%%)", p.Done(), p.Total, p.Percentage)
	if p.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", p.Failed)
	}
	if p.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", p.Skipped)
	}
	if p.Running > 0 {
		fmt.Fprintf(&b, ", %d running", p.Running)
	}
	return b.String()
}

// ProgressOf computes progress from a snapshot.
func ProgressOf(s RunSnapshot) Progress {
	p := Progress{RunID: s.RunID, Status: s.Status, Total: len(s.Tasks)}
	for _, ts := range s.Tasks {
		switch ts.Status {
		case TaskStatusSucceeded:
			p.Succeeded++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusSkipped:
			p.Skipped++
		case TaskStatusRunning:
			p.Running++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Done()) / float64(p.Total) * 100
	}
	return p
}

// RunSummary is the row persisted to the run index.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Workflow   string    `json:"workflow,omitempty"`
	Status     RunStatus `json:"status"`
	Success    bool      `json:"success"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// SummaryOf builds a run summary from a snapshot.
func SummaryOf(s RunSnapshot, workflow string) RunSummary {
	p := ProgressOf(s)
	return RunSummary{
		RunID:      s.RunID,
		Workflow:   workflow,
		Status:     s.Status,
		Success:    s.Status == RunStatusCompleted,
		Total:      p.Total,
		Succeeded:  p.Succeeded,
		Failed:     p.Failed,
		Skipped:    p.Skipped,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}
