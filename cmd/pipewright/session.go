package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/pipewright/internal/config"
	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/metrics"
	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/internal/signals"
	"github.com/ShayCichocki/pipewright/internal/state"
	"github.com/ShayCichocki/pipewright/internal/tui"
	"github.com/ShayCichocki/pipewright/internal/workflow"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// session is everything one run or resume command needs.
type session struct {
	cmd     *cobra.Command
	cfg     *config.Config
	root    string
	wf      *workflow.File
	db      *state.DB
	watcher *signals.Watcher
	logger  *orchestrator.DebugLogger
	metrics *metrics.Collector
	server  *metrics.Server
	usage   llm.UsageReporter
	coord   *orchestrator.Coordinator
	order   []string

	headless bool
	stdin    io.Reader

	// ask routes intervention requests; set once the output mode is known.
	mu  sync.Mutex
	ask orchestrator.InterventionHandler
}

// openSession loads config and the workflow and wires the coordinator with
// checkpointing, signal files, metrics and debug logging.
func openSession(ctx context.Context, cmd *cobra.Command, path string) (_ *session, err error) {
	s := &session{cmd: cmd, stdin: cmd.InOrStdin()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.cfg, err = loadConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s.root, err = projectRoot(); err != nil {
		return nil, err
	}
	if s.wf, err = workflow.Load(path); err != nil {
		return nil, err
	}

	logPath := runDebugLog
	if logPath == "" {
		logPath = s.cfg.Logging.DebugLog
	}
	switch {
	case logPath != "":
		if s.logger, err = orchestrator.NewDebugLogger(logPath); err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
	case os.Getenv("PIPEWRIGHT_DEBUG") != "":
		s.logger = orchestrator.NewDebugLoggerForDir(s.root)
	default:
		s.logger = orchestrator.NopLogger()
	}

	client, err := newLLM(ctx, s.cfg, s.wf)
	if err != nil {
		return nil, err
	}
	reg, err := s.wf.Build(workflow.Env{
		LLM:        client,
		MaxRetries: s.cfg.Retry.MaxRetries,
		Critical:   true,
		Logf:       s.logger.Log,
	})
	if err != nil {
		return nil, err
	}

	if s.db, err = openState(s.cfg, s.root); err != nil {
		return nil, err
	}

	dir := signalsDir(s.cfg, s.root)
	if err := signals.Clear(dir); err != nil {
		return nil, fmt.Errorf("clear signals: %w", err)
	}
	if s.watcher, err = signals.NewWatcher(dir, signals.WithPollInterval(s.cfg.Signals.PollInterval)); err != nil {
		return nil, fmt.Errorf("watch signals: %w", err)
	}
	s.logger.Log("[session] watching signal files in %s", s.watcher.Dir())

	s.metrics = metrics.New()
	if u, ok := client.(llm.UsageReporter); ok {
		s.usage = u
		if err := s.metrics.WatchLLM(u); err != nil {
			return nil, fmt.Errorf("register llm metrics: %w", err)
		}
	}
	addr := runMetricsAddr
	if addr == "" {
		addr = s.cfg.Metrics.Addr
	}
	if addr != "" {
		if s.server, err = s.metrics.Serve(ctx, addr); err != nil {
			return nil, fmt.Errorf("serve metrics: %w", err)
		}
	}

	parallel := s.cfg.Coordinator.MaxParallel
	if runParallel > 0 {
		parallel = runParallel
	}

	opts := []orchestrator.Option{
		orchestrator.WithMaxParallel(parallel),
		orchestrator.WithDefaultTimeout(s.cfg.Coordinator.TaskTimeout),
		orchestrator.WithDefaultBackoff(s.cfg.Retry.Backoff()),
		orchestrator.WithInterventionTimeout(s.cfg.Coordinator.InterventionTimeout),
		orchestrator.WithEventBuffer(s.cfg.Coordinator.EventBuffer),
		orchestrator.WithCheckpointer(s.db),
		orchestrator.WithSignals(s.watcher),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithWorkflowName(s.wf.Name),
	}
	if !runNoIntervention {
		opts = append(opts, orchestrator.WithInterventionHandler(s.intervene))
	}
	s.coord = orchestrator.New(orchestrator.RequiredConfig{Registry: reg}, opts...)

	if s.order, err = s.coord.ExecutionOrder(); err != nil {
		return nil, err
	}

	s.headless = runHeadless || !isTerminal(cmd.OutOrStdout())
	return s, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// intervene forwards to whichever handler the output mode installed.
func (s *session) intervene(ctx context.Context, req orchestrator.InterventionRequest) (orchestrator.InterventionDecision, error) {
	s.mu.Lock()
	ask := s.ask
	s.mu.Unlock()
	if ask == nil {
		return orchestrator.InterventionAbort, errors.New("no way to ask for a decision")
	}
	return ask(ctx, req)
}

func (s *session) setAsk(h orchestrator.InterventionHandler) {
	s.mu.Lock()
	s.ask = h
	s.mu.Unlock()
}

// execute runs start in the chosen output mode and reports the result.
func (s *session) execute(ctx context.Context, start func(ctx context.Context) (*models.RunResult, error)) error {
	var (
		result *models.RunResult
		err    error
	)
	if s.headless {
		result, err = s.executeHeadless(ctx, start)
	} else {
		result, err = s.executeTUI(ctx, start)
	}
	if err != nil {
		return err
	}

	out := s.cmd.OutOrStdout()
	printResult(out, s.wf.Name, result)
	if s.usage != nil {
		if u := s.usage.Usage(); u.Calls > 0 {
			fmt.Fprintf(out, "  LLM usage: %s\n", u)
		}
	}
	if n := s.coord.DroppedEvents(); n > 0 {
		printStatus(out, "!", fmt.Sprintf("%d events were dropped", n), color.FgYellow)
	}
	if !result.Success {
		if result.Status == models.RunStatusAborted || result.State.Cancelled {
			fmt.Fprintf(out, "  Resume with: pipewright resume %s %s\n", s.wf.Path(), result.RunID)
		}
		return result.Err()
	}
	return nil
}

// executeHeadless prints events as lines while the run progresses.
func (s *session) executeHeadless(ctx context.Context, start func(ctx context.Context) (*models.RunResult, error)) (*models.RunResult, error) {
	out := s.cmd.OutOrStdout()
	s.setAsk(promptIntervention(s.stdin, out))

	fmt.Fprintf(out, "Running workflow %s (%d tasks)\n", s.wf.Name, len(s.order))

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		consumeEventsHeadless(out, s.coord.Events())
	}()

	result, err := start(ctx)
	// Closing the coordinator closes the event channel so the printer drains and exits.
	s.coord.Close()
	<-printed
	return result, err
}

// executeTUI runs the interactive view alongside the coordinator.
func (s *session) executeTUI(ctx context.Context, start func(ctx context.Context) (*models.RunResult, error)) (result *models.RunResult, retErr error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	var opts []tea.ProgramOption
	if rate := s.cfg.TUI.RefreshRate; rate > 0 {
		opts = append(opts, tea.WithFPS(max(1, int(time.Second/rate))))
	}
	opts = append(opts, tea.WithContext(ctx))
	program, _ := tui.NewRunProgram(s.wf.Name, s.order, s.coord, opts...)
	s.setAsk(tui.InterventionHandler(program.Send))

	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	go tui.Forward(fwdCtx, s.coord.Events(), program.Send)

	type outcome struct {
		result *models.RunResult
		err    error
	}
	runDone := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				runDone <- outcome{err: fmt.Errorf("PANIC in coordinator: %v", r)}
			}
		}()
		res, err := start(ctx)
		runDone <- outcome{res, err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in TUI: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case o := <-runDone:
		program.Send(tui.DoneMsg{Result: o.result, Err: o.err})
		// Wait for the user to quit so they can see the result.
		<-tuiDone
		return o.result, o.err

	case err := <-tuiDone:
		// The view was closed while the run was still going. Stop it and
		// wait so the final checkpoint is written.
		s.coord.Cancel()
		o := <-runDone
		if o.err == nil && err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return o.result, fmt.Errorf("tui: %w", err)
		}
		return o.result, o.err
	}
}

// Close releases everything the session opened.
func (s *session) Close() {
	if s.coord != nil {
		s.coord.Close()
	}
	if s.server != nil {
		s.server.Close()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.logger != nil {
		s.logger.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// consumeEventsHeadless prints coordinator events until the channel closes.
func consumeEventsHeadless(w io.Writer, events <-chan orchestrator.Event) {
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	for event := range events {
		switch event.Type {
		case orchestrator.EventRunStarted:
			fmt.Fprintf(w, "[RUN] %s started\n", event.RunID)
		case orchestrator.EventTaskStarted:
			fmt.Fprintf(w, "[STARTED] %s\n", event.TaskID)
		case orchestrator.EventAttemptFailed:
			fmt.Fprintf(w, "%s %s attempt %d (%s): %s\n", yellow("[ATTEMPT]"), event.TaskID, event.Attempt, event.Kind, firstLine(event.Message))
		case orchestrator.EventRetryScheduled:
			fmt.Fprintf(w, "%s %s in %s\n", yellow("[RETRY]"), event.TaskID, formatDuration(event.Delay))
		case orchestrator.EventFallbackStarted:
			fmt.Fprintf(w, "%s %s\n", yellow("[FALLBACK]"), event.TaskID)
		case orchestrator.EventInterventionRequested:
			fmt.Fprintf(w, "%s %s\n", yellow("[INTERVENTION]"), event.TaskID)
		case orchestrator.EventTaskSucceeded:
			if event.Message != "" {
				fmt.Fprintf(w, "%s %s (via %s)\n", green("[DONE]"), event.TaskID, event.Message)
			} else {
				fmt.Fprintf(w, "%s %s\n", green("[DONE]"), event.TaskID)
			}
		case orchestrator.EventTaskFailed:
			fmt.Fprintf(w, "%s %s: %s\n", red("[FAILED]"), event.TaskID, firstLine(event.Message))
		case orchestrator.EventTaskSkipped:
			fmt.Fprintf(w, "%s %s: %s\n", yellow("[SKIPPED]"), event.TaskID, firstLine(event.Message))
		case orchestrator.EventRunPaused:
			fmt.Fprintln(w, "[PAUSED] dispatching paused")
		case orchestrator.EventRunResumed:
			fmt.Fprintln(w, "[RESUMED] dispatching resumed")
		case orchestrator.EventRunFinished:
			fmt.Fprintf(w, "[FINISHED] %s (%s)\n", event.Status, event.Progress)
		}
	}
}

// promptIntervention asks on the terminal. Anything other than "c" aborts,
// as does a closed stdin.
func promptIntervention(in io.Reader, out io.Writer) orchestrator.InterventionHandler {
	lines := &lineReader{in: in, lines: make(chan string)}
	var mu sync.Mutex
	return func(ctx context.Context, req orchestrator.InterventionRequest) (orchestrator.InterventionDecision, error) {
		mu.Lock()
		defer mu.Unlock()

		answers := lines.start()

		fmt.Fprintln(out)
		printStatus(out, "?", "Intervention required: "+req.TaskID, color.FgYellow)
		fmt.Fprintf(out, "  %s\n", req.Summary)
		for _, a := range req.SuggestedActions {
			fmt.Fprintf(out, "  - %s\n", a)
		}
		fmt.Fprint(out, "  [c]ontinue without it or [a]bort the run? ")

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return orchestrator.InterventionAbort, ctx.Err()
		case line, ok := <-answers:
			if !ok {
				fmt.Fprintln(out)
				return orchestrator.InterventionAbort, nil
			}
			a := strings.ToLower(strings.TrimSpace(line))
			if a == "c" || a == "continue" {
				return orchestrator.InterventionContinue, nil
			}
			return orchestrator.InterventionAbort, nil
		}
	}
}

// lineReader reads lines from in on a single goroutine, started on first use.
// The channel is closed when in is exhausted.
type lineReader struct {
	once  sync.Once
	in    io.Reader
	lines chan string
}

func (r *lineReader) start() <-chan string {
	r.once.Do(func() {
		go func() {
			defer close(r.lines)
			reader := bufio.NewReader(r.in)
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					r.lines <- line
				}
				if err != nil {
					return
				}
			}
		}()
	})
	return r.lines
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
