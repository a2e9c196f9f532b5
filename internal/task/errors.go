package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// ValidationError reports a violated input contract. It is never retried.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.TaskID == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("task %s: validation failed: %s", e.TaskID, e.Reason)
}

// Invalid builds a ValidationError for the given task.
func Invalid(taskID, format string, args ...interface{}) *ValidationError {
	return &ValidationError{TaskID: taskID, Reason: fmt.Sprintf(format, args...)}
}

// Error tags a task failure with the kind that drives retry decisions.
type Error struct {
	Kind models.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error { return wrap(models.ErrorKindTransient, err) }

// Permanent marks err as not retryable.
func Permanent(err error) error { return wrap(models.ErrorKindPermanent, err) }

// Timeout marks err as a deadline failure. Timeouts count against retries.
func Timeout(err error) error { return wrap(models.ErrorKindTimeout, err) }

// Transientf formats a transient error.
func Transientf(format string, args ...interface{}) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf formats a permanent error.
func Permanentf(format string, args ...interface{}) error {
	return Permanent(fmt.Errorf(format, args...))
}

func wrap(kind models.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// transientIndicators are message fragments that suggest a retry may succeed.
var transientIndicators = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"temporar",
	"rate limit",
	"unavailable",
	"too many requests",
	"quota exceeded",
}

// KindOf classifies an arbitrary error. Tagged errors keep their tag,
// deadline errors are timeouts, and untagged errors fall back to matching
// well-known transient messages. Everything else is permanent.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return ""
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return models.ErrorKindValidation
	}
	var tErr *Error
	if errors.As(err, &tErr) && tErr.Kind.Valid() {
		return tErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrorKindPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return models.ErrorKindTransient
		}
	}
	return models.ErrorKindPermanent
}

// PanicError wraps a value recovered from a panicking task body.
type PanicError struct {
	TaskID string
	Value  interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value)
}
