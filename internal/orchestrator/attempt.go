package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/pipewright/internal/retry"
	"github.com/ShayCichocki/pipewright/internal/store"
	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// taskRun carries what one task needs across its attempts.
type taskRun struct {
	desc   models.TaskDescriptor
	impl   task.Task
	input  *task.Input
	policy retry.Policy
	// version is the output key's version when the task started.
	version uint64
	lastErr error
}

// runTask drives one task from running to a terminal state.
func (c *Coordinator) runTask(run *activeRun, id string) {
	desc, err := c.registry.Get(id)
	if err != nil {
		c.failTask(run, id, err.Error())
		return
	}
	impl, err := c.registry.Task(id)
	if err != nil {
		c.failTask(run, id, err.Error())
		return
	}

	deps, missing := c.gatherInputs(run, desc)
	tr := &taskRun{
		desc:    desc,
		impl:    impl,
		input:   task.NewInput(run.id, id, deps, run.store.Globals(), missing),
		policy:  retry.NewPolicy(desc, c.opts.defaultBackoff),
		version: run.store.Version(store.TaskKey(id)),
	}
	if len(missing) > 0 {
		c.logger.Log("[attempt] task %s: optional dependencies %v missing, using defaults", id, missing)
	}

	if err := c.validate(tr); err != nil {
		attempt := run.state.RecordAttempt(id)
		c.attemptFailed(run, tr, attempt, err)
		c.retryOrRecover(run, tr, err)
		return
	}

	for {
		attempt := run.state.RecordAttempt(id)
		in := tr.input.WithAttempt(attempt, false)
		c.logger.Log("[attempt] task %s: attempt %d of %d", id, attempt, tr.policy.MaxAttempts())

		raw, err := c.invoke(run, id, c.timeoutFor(desc), func(ctx context.Context) (any, error) {
			return impl.Execute(ctx, in)
		})
		if err == nil {
			strategy := ""
			if attempt > 1 {
				strategy = models.StrategyRetry
			}
			if err = c.publish(run, tr, raw, strategy); err == nil {
				return
			}
		}

		c.attemptFailed(run, tr, attempt, err)
		if !c.retryOrRecover(run, tr, err) {
			return
		}
	}
}

// validate runs the input contract check, containing panics.
func (c *Coordinator) validate(tr *taskRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = task.Invalid(tr.desc.ID, "validation panicked: %v", r)
		}
	}()
	if err := tr.impl.ValidateInput(tr.input); err != nil {
		var vErr *task.ValidationError
		if errors.As(err, &vErr) {
			return err
		}
		return &task.ValidationError{TaskID: tr.desc.ID, Reason: err.Error()}
	}
	return nil
}

// retryOrRecover consults the retry policy after a failed attempt. It returns
// true when another attempt should run; otherwise the task has been moved to
// a terminal state.
func (c *Coordinator) retryOrRecover(run *activeRun, tr *taskRun, err error) bool {
	id := tr.desc.ID
	out := run.retries.HandleFailure(id, tr.policy, task.KindOf(err), err.Error())

	switch out.Decision {
	case retry.Retry:
		c.opts.metrics.RetryScheduled(id, out.Delay)
		c.logger.Log("[attempt] task %s: retrying in %s (attempt %d of %d failed)", id, out.Delay, out.Attempt, tr.policy.MaxAttempts())
		c.emit(run, Event{Type: EventRetryScheduled, TaskID: id, Attempt: out.Attempt, Delay: out.Delay})

		if err := c.opts.sleeper(run.ctx, out.Delay); err != nil {
			c.skip(run, id, run.reason(), models.StrategyRetry)
			return false
		}
		if run.halted() {
			c.skip(run, id, run.reason(), models.StrategyRetry)
			return false
		}
		return true
	default:
		c.recoverTask(run, tr)
		return false
	}
}

// attemptFailed records one failed attempt.
func (c *Coordinator) attemptFailed(run *activeRun, tr *taskRun, attempt int, err error) {
	kind := task.KindOf(err)
	tr.lastErr = err
	run.state.RecordError(models.ErrorRecord{
		TaskID:    tr.desc.ID,
		Attempt:   attempt,
		Kind:      kind,
		Message:   err.Error(),
		Timestamp: c.now(),
	})
	c.opts.metrics.AttemptFailed(tr.desc.ID, kind)
	c.logger.Log("[attempt] task %s: attempt %d failed (%s): %v", tr.desc.ID, attempt, kind, err)
	c.emit(run, Event{Type: EventAttemptFailed, TaskID: tr.desc.ID, Attempt: attempt, Kind: kind, Message: err.Error(), Error: err})
}

func (c *Coordinator) timeoutFor(desc models.TaskDescriptor) time.Duration {
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return c.opts.defaultTimeout
}

// invoke runs fn under the attempt timeout. Cancelling the run does not
// interrupt an attempt; only its own deadline does. A panic becomes a
// permanent failure.
func (c *Coordinator) invoke(run *activeRun, taskID string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx := context.WithoutCancel(run.ctx)
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		raw any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: task.Permanent(&task.PanicError{TaskID: taskID, Value: r})}
			}
		}()
		raw, err := fn(ctx)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		return r.raw, r.err
	case <-ctx.Done():
		return nil, task.Timeout(fmt.Errorf("attempt exceeded timeout of %s", timeout))
	}
}

// format converts a raw result, containing panics.
func format(tr *taskRun, raw any) (v models.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = task.Permanent(&task.PanicError{TaskID: tr.desc.ID, Value: r})
		}
	}()
	v, err = tr.impl.FormatOutput(raw)
	if err != nil {
		return models.Value{}, task.Permanent(fmt.Errorf("format output: %w", err))
	}
	return v, nil
}

// publish formats and stores a task's output, then marks it succeeded.
// A concurrent writer on the output key is a permanent failure.
func (c *Coordinator) publish(run *activeRun, tr *taskRun, raw any, strategy string) error {
	id := tr.desc.ID
	value, err := format(tr, raw)
	if err != nil {
		return err
	}

	entry, err := run.store.CompareAndPublish(store.TaskKey(id), tr.version, value, id)
	if err != nil {
		return task.Permanent(fmt.Errorf("publish output: %w", err))
	}

	ref := models.OutputRef{Key: entry.Key, Version: entry.Version}
	if err := run.state.MarkSucceeded(id, ref, strategy, c.now()); err != nil {
		c.logger.Log("[attempt] %v", err)
		return nil
	}
	ts, _ := run.state.Task(id)
	c.opts.metrics.TaskFinished(id, models.TaskStatusSucceeded, ts.Duration())
	c.logger.Log("[attempt] task %s succeeded after %d attempts (output %s v%d)", id, ts.Attempts, entry.Key, entry.Version)
	c.emit(run, Event{Type: EventTaskSucceeded, TaskID: id, Attempt: ts.Attempts, Message: strategy})
	return nil
}
