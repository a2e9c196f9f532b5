package orchestrator

import (
	"time"

	"github.com/ShayCichocki/pipewright/internal/registry"
	"github.com/ShayCichocki/pipewright/internal/retry"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// RequiredConfig contains the minimal required configuration for a Coordinator.
type RequiredConfig struct {
	// Registry holds the task definitions. It must be frozen before Run.
	Registry *registry.Registry
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	maxParallel         int
	defaultTimeout      time.Duration
	defaultBackoff      models.Backoff
	sleeper             retry.Sleeper
	checkpointer        Checkpointer
	intervention        InterventionHandler
	interventionTimeout time.Duration
	logger              *DebugLogger
	metrics             Recorder
	eventBuffer         int
	signals             SignalSource
	clock               func() time.Time
	workflowName        string
}

func defaultOptions() coordinatorOptions {
	return coordinatorOptions{
		maxParallel: 1,
		defaultBackoff: models.Backoff{
			BaseDelay:  retry.DefaultBaseDelay,
			Multiplier: retry.DefaultMultiplier,
			MaxDelay:   retry.DefaultMaxDelay,
		},
		sleeper:             retry.Sleep,
		interventionTimeout: 30 * time.Minute,
		logger:              NopLogger(),
		metrics:             nopRecorder{},
		eventBuffer:         100,
		clock:               time.Now,
	}
}

// WithMaxParallel sets how many independent tasks may run at once.
// Values below 1 are treated as 1, which runs tasks strictly in resolved order.
func WithMaxParallel(n int) Option {
	return func(o *coordinatorOptions) { o.maxParallel = n }
}

// WithDefaultTimeout sets the per-attempt timeout for tasks that declare none.
// Zero disables the default.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *coordinatorOptions) { o.defaultTimeout = d }
}

// WithDefaultBackoff sets the backoff for tasks that declare none.
func WithDefaultBackoff(b models.Backoff) Option {
	return func(o *coordinatorOptions) { o.defaultBackoff = b }
}

// WithSleeper replaces the backoff sleep (mainly for testing).
func WithSleeper(s retry.Sleeper) Option {
	return func(o *coordinatorOptions) { o.sleeper = s }
}

// WithCheckpointer enables checkpoints and Resume.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *coordinatorOptions) { o.checkpointer = c }
}

// WithInterventionHandler sets the callback consulted before aborting on a
// critical task that requires intervention.
func WithInterventionHandler(h InterventionHandler) Option {
	return func(o *coordinatorOptions) { o.intervention = h }
}

// WithInterventionTimeout bounds how long the intervention handler may take.
func WithInterventionTimeout(d time.Duration) Option {
	return func(o *coordinatorOptions) { o.interventionTimeout = d }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(o *coordinatorOptions) { o.metrics = r }
}

// WithEventBuffer sets the size of the events channel buffer.
func WithEventBuffer(n int) Option {
	return func(o *coordinatorOptions) { o.eventBuffer = n }
}

// WithSignals connects an external cancel/pause source.
func WithSignals(s SignalSource) Option {
	return func(o *coordinatorOptions) { o.signals = s }
}

// WithClock overrides the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *coordinatorOptions) { o.clock = now }
}

// WithWorkflowName labels recorded runs.
func WithWorkflowName(name string) Option {
	return func(o *coordinatorOptions) { o.workflowName = name }
}
