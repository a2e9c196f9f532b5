package orchestrator

import (
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventRunStarted indicates a run has started dispatching tasks.
	EventRunStarted EventType = "run_started"
	// EventTaskStarted indicates a task has been dispatched.
	EventTaskStarted EventType = "task_started"
	// EventAttemptFailed indicates a single attempt failed.
	EventAttemptFailed EventType = "attempt_failed"
	// EventRetryScheduled indicates a task will be retried after a delay.
	EventRetryScheduled EventType = "retry_scheduled"
	// EventFallbackStarted indicates a critical task's fallback pass has started.
	EventFallbackStarted EventType = "fallback_started"
	// EventInterventionRequested indicates the user has been asked to decide.
	EventInterventionRequested EventType = "intervention_requested"
	// EventTaskSucceeded indicates a task published its output.
	EventTaskSucceeded EventType = "task_succeeded"
	// EventTaskFailed indicates a critical task failed for good.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was skipped.
	EventTaskSkipped EventType = "task_skipped"
	// EventRunPaused indicates dispatching has been paused.
	EventRunPaused EventType = "run_paused"
	// EventRunResumed indicates dispatching has resumed.
	EventRunResumed EventType = "run_resumed"
	// EventRunFinished indicates the run reached a terminal state.
	EventRunFinished EventType = "run_finished"
)

// Event is emitted by the coordinator as a run progresses.
// Events drive the TUI and any other observer.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to.
	RunID string
	// TaskID is the related task, if any.
	TaskID string
	// Attempt is the attempt number for attempt-level events.
	Attempt int
	// Kind classifies the error for failure events.
	Kind models.ErrorKind
	// Message provides additional context.
	Message string
	// Error contains error details for failure events.
	Error error
	// Delay is the backoff before the next attempt (retry_scheduled).
	Delay time.Duration
	// Status is the run status (run_finished).
	Status models.RunStatus
	// Progress is the run progress at the time of the event.
	Progress models.Progress
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
