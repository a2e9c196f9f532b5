// Package retry implements the per-task retry policy and backoff schedule.
package retry

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Default backoff values used when neither the task nor the coordinator sets one.
const (
	DefaultBaseDelay  = time.Second
	DefaultMultiplier = 2.0
	DefaultMaxDelay   = time.Minute
)

// Policy is the resolved retry configuration for one task.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NewPolicy merges a descriptor's settings over fallback backoff values,
// one field at a time.
func NewPolicy(desc models.TaskDescriptor, fallback models.Backoff) Policy {
	b := desc.Backoff.WithDefaults(fallback)
	p := Policy{
		MaxRetries: desc.MaxRetries,
		BaseDelay:  b.BaseDelay,
		Multiplier: b.Multiplier,
		MaxDelay:   b.MaxDelay,
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// MaxAttempts returns the total number of attempts allowed.
func (p Policy) MaxAttempts() int {
	return 1 + p.MaxRetries
}

// Delay returns how long to wait after the given failed attempt (1-indexed):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay when set.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Decision represents what to do after a failed attempt.
type Decision int

const (
	// Retry indicates another attempt should be made after the backoff delay.
	Retry Decision = iota
	// Exhausted indicates every allowed attempt has failed.
	Exhausted
	// ShortCircuit indicates the failure kind is not retryable.
	ShortCircuit
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	case ShortCircuit:
		return "short_circuit"
	default:
		return "unknown"
	}
}

// Outcome is the handler's answer for one failure.
type Outcome struct {
	Decision Decision
	// Attempt is the attempt that just failed.
	Attempt int
	// Delay is the backoff before the next attempt. Zero unless Decision is Retry.
	Delay time.Duration
}

// Handler tracks attempts and errors per task and applies each task's policy.
type Handler struct {
	mu       sync.RWMutex
	attempts map[string]int
	errors   map[string][]string
}

// NewHandler creates an empty handler.
func NewHandler() *Handler {
	return &Handler{
		attempts: make(map[string]int),
		errors:   make(map[string][]string),
	}
}

// HandleFailure records a failed attempt and decides what happens next.
func (h *Handler) HandleFailure(taskID string, policy Policy, kind models.ErrorKind, errMsg string) Outcome {
	h.mu.Lock()
	h.attempts[taskID]++
	attempt := h.attempts[taskID]
	h.errors[taskID] = append(h.errors[taskID], errMsg)
	h.mu.Unlock()

	out := Outcome{Attempt: attempt}
	switch {
	case !kind.Retryable():
		out.Decision = ShortCircuit
		log.Printf("[retry] task %s: attempt %d failed with %s error, not retrying", taskID, attempt, kind)
	case attempt >= policy.MaxAttempts():
		out.Decision = Exhausted
		log.Printf("[retry] task %s: max attempts (%d) reached", taskID, policy.MaxAttempts())
	default:
		out.Decision = Retry
		out.Delay = policy.Delay(attempt)
	}
	return out
}

// Attempts returns the number of failed attempts recorded for a task.
func (h *Handler) Attempts(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attempts[taskID]
}

// Errors returns the error messages recorded for a task, oldest first.
func (h *Handler) Errors(taskID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.errors[taskID]...)
}

// Summary returns a one-line description of a task's failures.
func (h *Handler) Summary(taskID string) string {
	return Summarize(taskID, h.Attempts(taskID), h.Errors(taskID))
}

// Summarize describes a task's failure history in one line.
func Summarize(taskID string, attempts int, errs []string) string {
	unique := make(map[string]bool, len(errs))
	for _, e := range errs {
		unique[e] = true
	}
	latest := "(no error recorded)"
	if len(errs) > 0 {
		latest = errs[len(errs)-1]
	}
	return fmt.Sprintf("Task %s failed after %d attempts with %d unique errors. Latest error: %s",
		taskID, attempts, len(unique), latest)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper. It returns ctx.Err() if interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
