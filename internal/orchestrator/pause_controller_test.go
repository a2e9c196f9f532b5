package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPauseController_PauseResume(t *testing.T) {
	p := NewPauseController()
	if p.IsPaused() {
		t.Fatal("new controller should not be paused")
	}
	if !p.Pause() || p.Pause() {
		t.Error("Pause should report a change only once")
	}

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	if !p.Resume() || p.Resume() {
		t.Error("Resume should report a change only once")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitIfPaused = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
}

func TestPauseController_WaitEndsOnContext(t *testing.T) {
	p := NewPauseController()
	p.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.WaitIfPaused(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIfPaused = %v, want deadline exceeded", err)
	}
}

func TestPauseController_Stop(t *testing.T) {
	p := NewPauseController()
	p.Pause()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Stop()
	}()
	if err := p.WaitIfPaused(context.Background()); !errors.Is(err, errPauseStopped) {
		t.Errorf("WaitIfPaused = %v, want errPauseStopped", err)
	}
}

func TestPauseController_Changed(t *testing.T) {
	p := NewPauseController()
	ch := p.Changed()
	select {
	case <-ch:
		t.Fatal("Changed fired before any state change")
	default:
	}

	p.Pause()
	select {
	case <-ch:
	default:
		t.Fatal("Changed did not fire on Pause")
	}

	ch = p.Changed()
	p.Pause()
	select {
	case <-ch:
		t.Fatal("Changed fired on a repeated Pause")
	default:
	}

	p.Resume()
	select {
	case <-ch:
	default:
		t.Fatal("Changed did not fire on Resume")
	}
}
