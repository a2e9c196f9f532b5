package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/pipewright/internal/retry"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// InterventionDecision is the user's answer to an intervention request.
type InterventionDecision string

const (
	// InterventionContinue skips the failed task and lets the run go on.
	InterventionContinue InterventionDecision = "continue"
	// InterventionAbort aborts the run.
	InterventionAbort InterventionDecision = "abort"
)

// InterventionRequest describes a critical task that exhausted every
// automatic recovery path.
type InterventionRequest struct {
	RunID            string
	TaskID           string
	Attempts         int
	Errors           []models.ErrorRecord
	Summary          string
	SuggestedActions []string
	RequestedAt      time.Time
}

// InterventionHandler is called synchronously. Returning an error, or not
// returning before the intervention timeout, is treated as abort.
type InterventionHandler func(ctx context.Context, req InterventionRequest) (InterventionDecision, error)

// SuggestedActions returns hints for the user based on the last error message.
func SuggestedActions(lastError string) []string {
	suggestions := []string{
		"Review the error message and task logs for more details",
		"Check if the input data format is correct",
	}

	msg := strings.ToLower(lastError)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		suggestions = append(suggestions, "Consider increasing timeout limits or simplifying the task")
	case strings.Contains(msg, "memory") || strings.Contains(msg, "resource"):
		suggestions = append(suggestions, "Try reducing the scope or complexity of the current task")
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access"):
		suggestions = append(suggestions, "Check file system permissions and access rights")
	}
	return suggestions
}

// requestIntervention asks the handler for a decision. Any failure to answer
// yields InterventionAbort.
func (c *Coordinator) requestIntervention(run *activeRun, taskID string) InterventionDecision {
	snap := run.state.Snapshot()
	errs := snap.ErrorsFor(taskID)
	ts, _ := snap.Task(taskID)

	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	last := ""
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1]
	}

	req := InterventionRequest{
		RunID:            run.id,
		TaskID:           taskID,
		Attempts:         ts.Attempts,
		Errors:           errs,
		Summary:          retry.Summarize(taskID, ts.Attempts, msgs),
		SuggestedActions: SuggestedActions(last),
		RequestedAt:      c.now(),
	}
	c.emit(run, Event{Type: EventInterventionRequested, TaskID: taskID, Attempt: ts.Attempts, Message: req.Summary})
	c.logger.Log("[intervention] task %s: waiting up to %s for a decision", taskID, c.opts.interventionTimeout)

	ctx := run.ctx
	var cancel context.CancelFunc
	if c.opts.interventionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.interventionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type answer struct {
		decision InterventionDecision
		err      error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("intervention handler panicked: %v", r)}
			}
		}()
		d, err := c.opts.intervention(ctx, req)
		ch <- answer{decision: d, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			c.logger.Log("[intervention] task %s: handler error: %v", taskID, a.err)
			return InterventionAbort
		}
		if a.decision != InterventionContinue {
			return InterventionAbort
		}
		return InterventionContinue
	case <-ctx.Done():
		c.logger.Log("[intervention] task %s: no decision: %v", taskID, ctx.Err())
		return InterventionAbort
	}
}
