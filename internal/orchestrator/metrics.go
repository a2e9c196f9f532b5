package orchestrator

import (
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Recorder receives run and task measurements. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RunStarted(runID string)
	RunFinished(runID string, status models.RunStatus, elapsed time.Duration)
	TaskFinished(taskID string, status models.TaskStatus, elapsed time.Duration)
	AttemptFailed(taskID string, kind models.ErrorKind)
	RetryScheduled(taskID string, delay time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string)                                     {}
func (nopRecorder) RunFinished(string, models.RunStatus, time.Duration)   {}
func (nopRecorder) TaskFinished(string, models.TaskStatus, time.Duration) {}
func (nopRecorder) AttemptFailed(string, models.ErrorKind)                {}
func (nopRecorder) RetryScheduled(string, time.Duration)                  {}
