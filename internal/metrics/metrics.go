// Package metrics exports coordinator measurements to Prometheus.
//
// A Collector owns its own registry so several coordinators in one process
// (or one test binary) never collide on metric names:
//
//	m := metrics.New()
//	coord := orchestrator.New(cfg, orchestrator.WithMetrics(m))
//	srv, err := m.Serve(ctx, ":9090")
package metrics

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

const namespace = "pipewright"

// Collector records run and task metrics. It implements orchestrator.Recorder.
type Collector struct {
	registry *prometheus.Registry

	runsActive     prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	tasksTotal     *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	attemptsFailed *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	retryDelay     prometheus.Histogram

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates a collector with the Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		running:  make(map[string]struct{}),

		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of workflow runs currently executing.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished workflow runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"status"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state, by task and status.",
		}, []string{"task", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from first attempt to terminal state, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{"task", "status"}),
		attemptsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_failures_total",
			Help:      "Failed task attempts by task and error kind.",
		}, []string{"task", "kind"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled after a retryable failure.",
		}, []string{"task"}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay chosen before each retry.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	c.registry.MustRegister(
		c.runsActive,
		c.runsTotal,
		c.runDuration,
		c.tasksTotal,
		c.taskDuration,
		c.attemptsFailed,
		c.retriesTotal,
		c.retryDelay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RunStarted implements orchestrator.Recorder.
func (c *Collector) RunStarted(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[runID]; ok {
		return
	}
	c.running[runID] = struct{}{}
	c.runsActive.Inc()
}

// RunFinished implements orchestrator.Recorder.
func (c *Collector) RunFinished(runID string, status models.RunStatus, elapsed time.Duration) {
	c.mu.Lock()
	if _, ok := c.running[runID]; ok {
		delete(c.running, runID)
		c.runsActive.Dec()
	}
	c.mu.Unlock()

	c.runsTotal.WithLabelValues(string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// TaskFinished implements orchestrator.Recorder.
func (c *Collector) TaskFinished(taskID string, status models.TaskStatus, elapsed time.Duration) {
	c.tasksTotal.WithLabelValues(taskID, string(status)).Inc()
	// Tasks skipped before they ever ran have no meaningful duration.
	if elapsed > 0 {
		c.taskDuration.WithLabelValues(taskID, string(status)).Observe(elapsed.Seconds())
	}
}

// AttemptFailed implements orchestrator.Recorder.
func (c *Collector) AttemptFailed(taskID string, kind models.ErrorKind) {
	c.attemptsFailed.WithLabelValues(taskID, string(kind)).Inc()
}

// RetryScheduled implements orchestrator.Recorder.
func (c *Collector) RetryScheduled(taskID string, delay time.Duration) {
	c.retriesTotal.WithLabelValues(taskID).Inc()
	c.retryDelay.Observe(delay.Seconds())
}

// WatchLLM exports a completer's token usage, read at scrape time. Call it
// at most once per collector.
func (c *Collector) WatchLLM(src llm.UsageReporter) error {
	counter := func(name, help string, field func(llm.Usage) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(field(src.Usage())) })
	}
	for _, col := range []prometheus.Collector{
		counter("calls_total", "Completions made by prompt tasks.", func(u llm.Usage) int64 { return u.Calls }),
		counter("input_tokens_total", "Prompt tokens sent.", func(u llm.Usage) int64 { return u.InputTokens }),
		counter("output_tokens_total", "Completion tokens received.", func(u llm.Usage) int64 { return u.OutputTokens }),
	} {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry: c.registry,
	})
}

// Server exposes /metrics on an address until its context is cancelled.
type Server struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Serve starts an HTTP server for /metrics on addr. It returns once the
// listener is bound so callers can report the actual address.
func (c *Collector) Serve(ctx context.Context, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close shuts the server down, waiting briefly for in-flight scrapes.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.closeErr = s.srv.Shutdown(ctx)
		<-s.done
	})
	return s.closeErr
}

var _ orchestrator.Recorder = (*Collector)(nil)
