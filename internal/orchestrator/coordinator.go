package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/pipewright/internal/registry"
	"github.com/ShayCichocki/pipewright/internal/retry"
	"github.com/ShayCichocki/pipewright/internal/store"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Coordinator executes runs over a frozen registry. A coordinator runs at
// most one run at a time but may be reused for successive runs.
type Coordinator struct {
	registry *registry.Registry
	opts     coordinatorOptions
	logger   *DebugLogger
	emitter  *EventEmitter
	pause    *PauseController

	running atomic.Bool
	closed  atomic.Bool

	mu      sync.RWMutex
	current *activeRun
	last    *models.RunSnapshot
}

// activeRun holds the per-run collaborators. It is discarded when the run ends.
type activeRun struct {
	id      string
	state   *RunState
	store   *store.SharedStore
	retries *retry.Handler

	// ctx is cancelled to stop dispatching, by Cancel or by an abort.
	ctx    context.Context
	cancel context.CancelFunc

	haltMu     sync.Mutex
	haltReason string

	checkpointMu  sync.Mutex
	checkpointSeq int64
}

// halt stops further dispatching. The first reason wins.
func (r *activeRun) halt(reason string) {
	r.haltMu.Lock()
	if r.haltReason == "" {
		r.haltReason = reason
	}
	r.haltMu.Unlock()
	r.cancel()
}

// halted reports whether dispatching has stopped.
func (r *activeRun) halted() bool {
	return r.ctx.Err() != nil
}

// reason returns why the run stopped dispatching. A cancelled parent context
// counts as a cancellation.
func (r *activeRun) reason() string {
	r.haltMu.Lock()
	defer r.haltMu.Unlock()
	if r.haltReason != "" {
		return r.haltReason
	}
	return causeRunCancelled
}

// New creates a Coordinator with required config and optional settings.
func New(req RequiredConfig, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxParallel < 1 {
		o.maxParallel = 1
	}
	if o.sleeper == nil {
		o.sleeper = retry.Sleep
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}

	return &Coordinator{
		registry: req.Registry,
		opts:     o,
		logger:   o.logger,
		emitter:  NewEventEmitter(o.eventBuffer),
		pause:    NewPauseController(),
	}
}

func (c *Coordinator) now() time.Time { return c.opts.clock() }

// Events returns the coordinator's event stream. The channel is shared by
// every run and closed by Close.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// DroppedEvents returns how many events were dropped because nobody read them.
func (c *Coordinator) DroppedEvents() uint64 {
	return c.emitter.DroppedCount()
}

// Run executes every registered task. The returned error is reserved for
// misuse; task failures are reported inside the result.
func (c *Coordinator) Run(ctx context.Context, initial map[string]models.Value) (*models.RunResult, error) {
	order, err := c.preflight()
	if err != nil {
		return nil, err
	}
	defer c.running.Store(false)

	st := store.New()
	st.SetClock(c.opts.clock)
	st.SeedGlobals(initial)

	runID := uuid.New().String()
	return c.execute(ctx, runID, NewRunState(runID, order), st), nil
}

// ResumeRun continues a checkpointed run. Succeeded tasks keep their outputs;
// every other task runs again.
func (c *Coordinator) ResumeRun(ctx context.Context, runID string) (*models.RunResult, error) {
	if c.opts.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	order, err := c.preflight()
	if err != nil {
		return nil, err
	}
	defer c.running.Store(false)

	data, err := c.opts.checkpointer.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for run %s: %w", runID, err)
	}
	snap, st, err := DecodeCheckpoint(data)
	if err != nil {
		return nil, err
	}
	if err := sameTasks(order, snap.Order); err != nil {
		return nil, fmt.Errorf("resume run %s: %w", runID, err)
	}
	st.SetClock(c.opts.clock)

	rs := RestoreRunState(snap)
	c.logger.Log("[coordinator] resuming run %s with %d pending tasks", runID, len(rs.Pending()))
	return c.execute(ctx, runID, rs, st), nil
}

// preflight checks misuse and claims the coordinator for one run.
func (c *Coordinator) preflight() ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.registry == nil || !c.registry.Frozen() {
		return nil, ErrRegistryNotFrozen
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	order, err := c.registry.ResolveOrder()
	if err != nil {
		c.running.Store(false)
		return nil, fmt.Errorf("resolve order: %w", err)
	}
	return order, nil
}

func sameTasks(order, checkpointed []string) error {
	a := append([]string(nil), order...)
	b := append([]string(nil), checkpointed...)
	sort.Strings(a)
	sort.Strings(b)
	if len(a) != len(b) {
		return fmt.Errorf("checkpoint has %d tasks, registry has %d", len(b), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("checkpoint task set differs from registry at %q", b[i])
		}
	}
	return nil
}

func (c *Coordinator) execute(ctx context.Context, runID string, rs *RunState, st *store.SharedStore) *models.RunResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &activeRun{
		id:      runID,
		state:   rs,
		store:   st,
		retries: retry.NewHandler(),
		ctx:     runCtx,
		cancel:  cancel,
	}

	c.mu.Lock()
	c.current = run
	c.mu.Unlock()

	if c.opts.signals != nil {
		done := make(chan struct{})
		defer close(done)
		go c.watchSignals(c.opts.signals, done)
	}

	start := c.now()
	rs.Start(start)
	c.opts.metrics.RunStarted(runID)
	c.logger.Log("[coordinator] run %s started with %d tasks (max parallel %d)", runID, len(rs.order), c.opts.maxParallel)
	c.emit(run, Event{Type: EventRunStarted})
	c.recordRun(run)

	c.dispatch(run)

	result := c.finalize(run)

	c.opts.metrics.RunFinished(runID, result.Status, result.FinishedAt.Sub(start))
	c.emit(run, Event{Type: EventRunFinished, Status: result.Status, Message: string(result.Status)})
	c.checkpoint(run)
	c.recordRun(run)

	snap := result.State
	c.mu.Lock()
	c.current = nil
	c.last = &snap
	c.mu.Unlock()
	return result
}

// finalize marks leftovers as skipped and builds the result.
func (c *Coordinator) finalize(run *activeRun) *models.RunResult {
	now := c.now()
	if run.halted() {
		if run.reason() == causeRunCancelled {
			run.state.SetCancelled()
		}
		for _, id := range run.state.Pending() {
			c.skip(run, id, run.reason(), models.StrategyAbort)
		}
	}
	status := run.state.Finish(now)
	snap := run.state.Snapshot()

	result := &models.RunResult{
		RunID:        run.id,
		Success:      status == models.RunStatusCompleted,
		Status:       status,
		Deliverables: make(map[string]models.Value),
		Errors:       snap.Errors,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
		State:        snap,
	}
	for _, ts := range snap.Tasks {
		switch ts.Status {
		case models.TaskStatusSucceeded:
			result.CompletedTasks = append(result.CompletedTasks, ts.ID)
			if v, ok := run.store.Value(store.TaskKey(ts.ID)); ok {
				result.Deliverables[ts.ID] = v
			}
		case models.TaskStatusFailed:
			result.FailedTasks = append(result.FailedTasks, ts.ID)
		case models.TaskStatusSkipped:
			result.SkippedTasks = append(result.SkippedTasks, ts.ID)
		}
	}

	c.logger.Log("[coordinator] run %s finished: status=%s completed=%v failed=%v skipped=%v",
		run.id, status, result.CompletedTasks, result.FailedTasks, result.SkippedTasks)
	return result
}

// Cancel stops the active run after in-flight attempts finish. Returns false
// if no run is active.
func (c *Coordinator) Cancel() bool {
	c.mu.RLock()
	run := c.current
	c.mu.RUnlock()
	if run == nil {
		return false
	}
	c.logger.Log("[coordinator] run %s: cancel requested", run.id)
	run.halt(causeRunCancelled)
	return true
}

// Pause stops dispatching new tasks. Running tasks continue.
func (c *Coordinator) Pause() {
	if c.pause.Pause() {
		c.logger.Log("[coordinator] paused, no new tasks will be dispatched")
		c.emitCurrent(Event{Type: EventRunPaused})
	}
}

// Resume re-enables dispatching after Pause.
func (c *Coordinator) Resume() {
	if c.pause.Resume() {
		c.logger.Log("[coordinator] resumed dispatch")
		c.emitCurrent(Event{Type: EventRunResumed})
	}
}

// Paused reports whether dispatch is paused.
func (c *Coordinator) Paused() bool {
	return c.pause.IsPaused()
}

// Progress reports progress of the active run, or of the last finished run.
func (c *Coordinator) Progress() models.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.current != nil:
		return models.ProgressOf(c.current.state.Snapshot())
	case c.last != nil:
		return models.ProgressOf(*c.last)
	default:
		total := 0
		if c.registry != nil {
			total = c.registry.Len()
		}
		return models.Progress{Status: models.RunStatusIdle, Total: total, Pending: total}
	}
}

// Snapshot returns the state of the active run, or of the last finished run.
func (c *Coordinator) Snapshot() (models.RunSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.current != nil:
		return c.current.state.Snapshot(), true
	case c.last != nil:
		return *c.last, true
	default:
		return models.RunSnapshot{}, false
	}
}

// ExecutionOrder returns the order tasks are considered in.
func (c *Coordinator) ExecutionOrder() ([]string, error) {
	if c.registry == nil {
		return nil, errors.New("no registry")
	}
	return c.registry.ResolveOrder()
}

// ValidateSetup reports whether the registry is ready to run.
func (c *Coordinator) ValidateSetup() registry.SetupReport {
	if c.registry == nil {
		return registry.SetupReport{Errors: []string{"no registry configured"}}
	}
	return c.registry.ValidateSetup()
}

// Close releases the coordinator. The events channel is closed and any
// waiter on a paused coordinator is released.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.Cancel()
	c.pause.Stop()
	c.emitter.Close()
	return nil
}

func (c *Coordinator) emit(run *activeRun, e Event) {
	e.RunID = run.id
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	e.Progress = models.ProgressOf(run.state.Snapshot())
	c.emitter.Emit(e)
}

func (c *Coordinator) emitCurrent(e Event) {
	c.mu.RLock()
	run := c.current
	c.mu.RUnlock()
	if run != nil {
		c.emit(run, e)
		return
	}
	e.Timestamp = c.now()
	c.emitter.Emit(e)
}
