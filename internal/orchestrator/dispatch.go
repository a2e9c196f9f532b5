package orchestrator

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/pipewright/internal/store"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// dispatch runs the scheduling loop until every task is terminal or the run
// halts and in-flight tasks have drained. The worker group's limit is the
// parallelism bound.
func (c *Coordinator) dispatch(run *activeRun) {
	var workers errgroup.Group
	workers.SetLimit(c.opts.maxParallel)

	running := make(map[string]bool)
	done := make(chan string, len(run.state.order))
	halted := run.ctx.Done()

	for {
		// Taken before reading the pause state so no change is missed.
		pauseChanged := c.pause.Changed()

		if !run.halted() {
			c.skipBlocked(run)

			if c.pause.IsPaused() && len(running) == 0 {
				c.logger.Log("[dispatch] run %s paused with nothing in flight", run.id)
				if err := c.pause.WaitIfPaused(run.ctx); err != nil {
					c.logger.Log("[dispatch] pause wait ended: %v", err)
				}
				continue
			}

			if !c.pause.IsPaused() {
				c.admit(run, &workers, running, done)
			}
		}

		if len(running) == 0 {
			break
		}

		select {
		case id := <-done:
			delete(running, id)
			c.checkpoint(run)
		case <-pauseChanged:
			c.logger.Log("[dispatch] pause state changed with %d in flight", len(running))
		case <-halted:
			halted = nil
			c.logger.Log("[dispatch] run %s halting (%s), waiting for %d in-flight tasks", run.id, run.reason(), len(running))
		}
	}

	// Workers report on done just before returning, so wait for their slots.
	_ = workers.Wait()
}

// admit starts ready tasks that are independent of everything running until
// the worker group is full.
func (c *Coordinator) admit(run *activeRun, workers *errgroup.Group, running map[string]bool, done chan<- string) {
	for _, id := range c.readyTasks(run) {
		if !c.independentOfAll(id, running) {
			continue
		}

		// The worker holds its slot until told whether the task was marked
		// running.
		start := make(chan bool, 1)
		work := func() error {
			if !<-start {
				return nil
			}
			defer func() { done <- id }()
			c.runTask(run, id)
			return nil
		}
		if !workers.TryGo(work) {
			if len(running) >= c.opts.maxParallel {
				return
			}
			// A worker that already reported on done may still hold its
			// slot for a moment.
			workers.Go(work)
		}

		if err := run.state.MarkRunning(id, c.now()); err != nil {
			start <- false
			c.logger.Log("[dispatch] %v", err)
			continue
		}
		running[id] = true
		c.logger.Log("[dispatch] task %s started (%d running)", id, len(running))
		c.emit(run, Event{Type: EventTaskStarted, TaskID: id})
		start <- true
	}
}

// dependencyVerdict decides what a pending task's dependencies allow.
type dependencyVerdict int

const (
	verdictWait dependencyVerdict = iota
	verdictReady
	verdictSkip
)

// checkDependencies inspects the states of a task's dependencies. Required
// dependencies must have succeeded. An optional dependency may also be a
// skipped non-critical task, in which case its default stands in.
func (c *Coordinator) checkDependencies(run *activeRun, desc models.TaskDescriptor) (dependencyVerdict, string) {
	verdict := verdictReady

	for _, dep := range desc.Dependencies {
		switch run.state.TaskStatus(dep) {
		case models.TaskStatusSucceeded:
		case models.TaskStatusFailed:
			return verdictSkip, fmt.Sprintf("dependency %s failed", dep)
		case models.TaskStatusSkipped:
			return verdictSkip, fmt.Sprintf("dependency %s was skipped", dep)
		default:
			verdict = verdictWait
		}
	}

	for _, dep := range desc.OptionalDependencies {
		switch run.state.TaskStatus(dep) {
		case models.TaskStatusSucceeded:
		case models.TaskStatusFailed:
			return verdictSkip, fmt.Sprintf("optional dependency %s failed", dep)
		case models.TaskStatusSkipped:
			depDesc, err := c.registry.Get(dep)
			if err != nil || depDesc.Critical {
				return verdictSkip, fmt.Sprintf("critical dependency %s was skipped", dep)
			}
		default:
			verdict = verdictWait
		}
	}

	return verdict, ""
}

// skipBlocked skips every pending task that can no longer run. One pass in
// resolved order is enough because dependencies come first.
func (c *Coordinator) skipBlocked(run *activeRun) {
	for _, id := range run.state.Pending() {
		desc, err := c.registry.Get(id)
		if err != nil {
			c.skip(run, id, err.Error(), models.StrategySkip)
			continue
		}
		if verdict, cause := c.checkDependencies(run, desc); verdict == verdictSkip {
			c.skip(run, id, cause, models.StrategySkip)
		}
	}
}

// readyTasks returns pending tasks whose dependencies allow them to run, in
// resolved order.
func (c *Coordinator) readyTasks(run *activeRun) []string {
	var ready []string
	for _, id := range run.state.Pending() {
		desc, err := c.registry.Get(id)
		if err != nil {
			continue
		}
		if verdict, _ := c.checkDependencies(run, desc); verdict == verdictReady {
			ready = append(ready, id)
		}
	}
	return ready
}

// independentOfAll reports whether id may start alongside every running task.
func (c *Coordinator) independentOfAll(id string, running map[string]bool) bool {
	g := c.registry.Graph()
	for other := range running {
		if !g.Independent(id, other) {
			return false
		}
	}
	return true
}

// gatherInputs reads the declared dependency outputs in one consistent view.
// Skipped optional dependencies are replaced by their default and reported
// as missing.
func (c *Coordinator) gatherInputs(run *activeRun, desc models.TaskDescriptor) (map[string]models.Value, []string) {
	keys := make([]string, 0, len(desc.AllDependencies()))
	for _, dep := range desc.AllDependencies() {
		keys = append(keys, store.TaskKey(dep))
	}
	view := run.store.View(keys...)

	deps := make(map[string]models.Value, len(keys))
	var missing []string
	for _, dep := range desc.AllDependencies() {
		if e, ok := view[store.TaskKey(dep)]; ok {
			deps[dep] = e.Value
			continue
		}
		if desc.IsOptional(dep) {
			def, ok := desc.Defaults[dep]
			if !ok {
				def = models.Null()
			}
			deps[dep] = def
			missing = append(missing, dep)
		}
	}
	return deps, missing
}

// skip marks a task skipped and reports it.
func (c *Coordinator) skip(run *activeRun, id, cause, strategy string) {
	if err := run.state.MarkSkipped(id, cause, strategy, c.now()); err != nil {
		c.logger.Log("[dispatch] %v", err)
		return
	}
	ts, _ := run.state.Task(id)
	c.opts.metrics.TaskFinished(id, models.TaskStatusSkipped, ts.Duration())
	c.logger.Log("[dispatch] task %s skipped: %s", id, cause)
	c.emit(run, Event{Type: EventTaskSkipped, TaskID: id, Message: cause})
}
