package orchestrator

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// recoverTask handles a task that will not be retried again.
//
// A non-critical task is skipped and the run continues. A critical task gets,
// in order, one fallback pass with a relaxed input and a user intervention if
// its descriptor asks for one. If neither rescues it the task fails and the
// run aborts.
func (c *Coordinator) recoverTask(run *activeRun, tr *taskRun) {
	id := tr.desc.ID
	last := "unknown error"
	if tr.lastErr != nil {
		last = tr.lastErr.Error()
	}

	if !tr.desc.Critical {
		c.skip(run, id, "failed: "+last, models.StrategySkip)
		return
	}

	if fb, ok := tr.impl.(task.Fallback); ok && task.HasFallback(tr.impl) && !run.halted() {
		if c.runFallback(run, tr, fb) {
			return
		}
		last = tr.lastErr.Error()
	}

	if tr.desc.RequiresIntervention && c.opts.intervention != nil && !run.halted() {
		if c.requestIntervention(run, id) == InterventionContinue {
			c.logger.Log("[recovery] task %s: user chose to continue", id)
			c.skip(run, id, "skipped by user intervention", models.StrategyIntervention)
			return
		}
		c.logger.Log("[recovery] task %s: user chose to abort", id)
	}

	c.failTask(run, id, last)
}

// runFallback makes one fallback attempt. It returns true if the task
// succeeded.
func (c *Coordinator) runFallback(run *activeRun, tr *taskRun, fb task.Fallback) bool {
	id := tr.desc.ID
	attempt := run.state.RecordAttempt(id)
	in := tr.input.WithAttempt(attempt, true)

	c.logger.Log("[recovery] task %s: trying fallback (attempt %d)", id, attempt)
	c.emit(run, Event{Type: EventFallbackStarted, TaskID: id, Attempt: attempt})

	raw, err := c.invoke(run, id, c.timeoutFor(tr.desc), func(ctx context.Context) (any, error) {
		return fb.ExecuteFallback(ctx, in)
	})
	if err == nil {
		if err = c.publish(run, tr, raw, models.StrategyFallback); err == nil {
			return true
		}
	}
	c.attemptFailed(run, tr, attempt, fmt.Errorf("fallback: %w", err))
	return false
}

// failTask marks a critical task failed and aborts the run.
func (c *Coordinator) failTask(run *activeRun, id, cause string) {
	if err := run.state.MarkFailed(id, cause, models.StrategyAbort, c.now()); err != nil {
		c.logger.Log("[recovery] %v", err)
		return
	}
	ts, _ := run.state.Task(id)
	c.opts.metrics.TaskFinished(id, models.TaskStatusFailed, ts.Duration())
	c.logger.Log("[recovery] task %s failed, aborting run %s: %s", id, run.id, cause)
	c.emit(run, Event{Type: EventTaskFailed, TaskID: id, Attempt: ts.Attempts, Message: cause})
	run.halt(causeRunAborted)
}
