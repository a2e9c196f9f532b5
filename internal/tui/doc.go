// Package tui provides the live terminal view for pipewright runs.
//
// The view is driven entirely by coordinator events. It shows:
//   - Overall progress with a bar and per-status counts
//   - Every task in execution order with its status and latest attempt
//   - An activity log of recent events
//   - An intervention prompt when a critical task needs a decision
//
// Usage:
//
//	program, app := tui.NewRunProgram(workflowName, order, coord)
//	go tui.Forward(ctx, coord.Events(), program.Send)
//
//	// Route intervention requests through the TUI
//	orchestrator.WithInterventionHandler(tui.InterventionHandler(program.Send))
//
//	// Signal completion
//	program.Send(tui.DoneMsg{Result: result})
//
// Keys: p pauses or resumes dispatching, q cancels the run (a second q
// quits), c and a answer an intervention prompt.
package tui
