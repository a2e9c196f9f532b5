package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// EventMsg wraps a coordinator event for the TUI.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the run has returned.
type DoneMsg struct {
	Result *models.RunResult
	Err    error
}

// InterventionMsg asks the user to decide on a failed critical task.
// Exactly one decision is sent on Reply.
type InterventionMsg struct {
	Request orchestrator.InterventionRequest
	Reply   chan<- orchestrator.InterventionDecision
}

// Controller is the subset of the coordinator the TUI drives.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	Cancel() bool
}

// Forward pumps coordinator events into send until the channel closes or
// ctx is done.
func Forward(ctx context.Context, events <-chan orchestrator.Event, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			send(EventMsg{Event: e})
		}
	}
}

// InterventionHandler returns a coordinator intervention handler that asks
// through the TUI and blocks until the user answers or ctx expires.
func InterventionHandler(send func(tea.Msg)) orchestrator.InterventionHandler {
	return func(ctx context.Context, req orchestrator.InterventionRequest) (orchestrator.InterventionDecision, error) {
		reply := make(chan orchestrator.InterventionDecision, 1)
		send(InterventionMsg{Request: req, Reply: reply})
		select {
		case d := <-reply:
			return d, nil
		case <-ctx.Done():
			return orchestrator.InterventionAbort, ctx.Err()
		}
	}
}
