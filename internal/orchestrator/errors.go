package orchestrator

import (
	"errors"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

var (
	// ErrRunInProgress is returned when Run or Resume is called while another
	// run on the same coordinator is active.
	ErrRunInProgress = errors.New("a run is already in progress on this coordinator")
	// ErrRegistryNotFrozen is returned when running against a registry that
	// still accepts registrations.
	ErrRegistryNotFrozen = errors.New("registry must be frozen before running")
	// ErrNoCheckpointer is returned by Resume when no checkpointer is configured.
	ErrNoCheckpointer = errors.New("no checkpointer configured")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// AbortedRunError is returned by RunResult.Err when a run did not succeed.
type AbortedRunError = models.AbortedRunError

// Causes recorded on skipped tasks.
const (
	causeRunAborted   = "run aborted"
	causeRunCancelled = "run cancelled"
)
