package models

import (
	"fmt"
	"strings"
)

// AbortedRunError is surfaced when a run did not complete: a critical task
// could not be recovered or the run was cancelled.
type AbortedRunError struct {
	RunID       string
	FailedTasks []string
	Cancelled   bool
	// LastError is the final error message of the first failed task, if any.
	LastError string
}

func (e *AbortedRunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s aborted", e.RunID)
	if e.Cancelled {
		b.WriteString(": cancelled")
	}
	if len(e.FailedTasks) > 0 {
		fmt.Fprintf(&b, ": critical task %s failed", strings.Join(e.FailedTasks, ", "))
		if e.LastError != "" {
			fmt.Fprintf(&b, ": %s", e.LastError)
		}
	}
	return b.String()
}

// Err returns an *AbortedRunError when the run did not succeed, nil otherwise.
func (r *RunResult) Err() error {
	if r == nil || r.Success {
		return nil
	}
	e := &AbortedRunError{
		RunID:       r.RunID,
		FailedTasks: append([]string(nil), r.FailedTasks...),
		Cancelled:   r.State.Cancelled,
	}
	if len(r.FailedTasks) > 0 {
		errs := r.State.ErrorsFor(r.FailedTasks[0])
		if len(errs) > 0 {
			e.LastError = errs[len(errs)-1].Message
		}
	}
	return e
}
