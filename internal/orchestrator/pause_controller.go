package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// errPauseStopped is returned by WaitIfPaused once the controller is stopped.
var errPauseStopped = errors.New("coordinator stopped")

// PauseController gates task dispatch. While paused no new task is started;
// tasks already running are unaffected.
type PauseController struct {
	mu sync.Mutex
	// gate is non-nil while paused and closed on resume.
	gate chan struct{}
	// changed is closed and replaced on every Pause or Resume.
	changed chan struct{}
	stopped chan struct{}
	stop    sync.Once
}

// NewPauseController returns an unpaused controller.
func NewPauseController() *PauseController {
	return &PauseController{changed: make(chan struct{}), stopped: make(chan struct{})}
}

// Pause stops new dispatches. Returns true if the state changed.
func (p *PauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		return false
	}
	p.gate = make(chan struct{})
	p.notify()
	return true
}

// Resume re-enables dispatch. Returns true if the state changed.
func (p *PauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		return false
	}
	close(p.gate)
	p.gate = nil
	p.notify()
	return true
}

// Changed returns a channel that is closed on the next Pause or Resume.
// Callers fetch a fresh channel after each wake-up.
func (p *PauseController) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

func (p *PauseController) notify() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Stop releases every waiter for good.
func (p *PauseController) Stop() {
	p.stop.Do(func() { close(p.stopped) })
}

// IsPaused reports whether dispatch is paused.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate != nil
}

// WaitIfPaused blocks while paused. It returns errPauseStopped after Stop and
// the context's error if ctx ends first.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-p.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-p.stopped:
		return errPauseStopped
	default:
		return nil
	}
}
