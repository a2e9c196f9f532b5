package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

const maxLogLines = 8

// LogEntry is one line in the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// RunApp is the bubbletea model for a workflow run.
type RunApp struct {
	view     *RunView
	logs     []LogEntry
	control  Controller
	width    int
	height   int
	quitting bool

	cancelRequested bool
	done            bool
	result          *models.RunResult
	err             error

	// pending interventions, oldest first
	interventions []InterventionMsg

	// Styles
	titleStyle        lipgloss.Style
	logStyle          lipgloss.Style
	logTimeStyle      lipgloss.Style
	logKindStyle      lipgloss.Style
	errorStyle        lipgloss.Style
	doneStyle         lipgloss.Style
	hintStyle         lipgloss.Style
	interventionStyle lipgloss.Style
	keyStyle          lipgloss.Style
}

// NewRunApp creates the model. control may be nil, in which case pause and
// cancel keys do nothing.
func NewRunApp(workflow string, order []string, control Controller) *RunApp {
	return &RunApp{
		view:    NewRunView(NewRunState(workflow, order)),
		logs:    make([]LogEntry, 0),
		control: control,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		logKindStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(16),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		interventionStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),

		keyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("214")).
			Bold(true).
			Padding(0, 1),
	}
}

// NewRunProgram creates a bubbletea program for a run. Extra options are
// appended after tea.WithAltScreen.
func NewRunProgram(workflow string, order []string, control Controller, opts ...tea.ProgramOption) (*tea.Program, *RunApp) {
	app := NewRunApp(workflow, order, control)
	p := tea.NewProgram(app, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	return p, app
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return a.view.Init()
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)

	case EventMsg:
		a.view.Update(msg)
		a.addLog(msg.Event.Timestamp, string(msg.Event.Type), describe(msg.Event))

	case InterventionMsg:
		a.interventions = append(a.interventions, msg)
		a.addLog(msg.Request.RequestedAt, "intervention", msg.Request.Summary)

	case DoneMsg:
		a.done = true
		a.result = msg.Result
		a.err = msg.Err
		for len(a.interventions) > 0 {
			a.answer(orchestrator.InterventionAbort)
		}

	default:
		_, cmd := a.view.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *RunApp) handleKey(msg tea.KeyMsg) tea.Cmd {
	if len(a.interventions) > 0 {
		switch msg.String() {
		case "c":
			a.answer(orchestrator.InterventionContinue)
			return nil
		case "a":
			a.answer(orchestrator.InterventionAbort)
			return nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if a.done || a.cancelRequested || a.control == nil {
			a.quitting = true
			return tea.Quit
		}
		a.cancelRequested = true
		for len(a.interventions) > 0 {
			a.answer(orchestrator.InterventionAbort)
		}
		a.control.Cancel()
		a.addLog(time.Now(), "control", "cancel requested; in-flight tasks will finish")
	case "p":
		if a.control == nil || a.done {
			return nil
		}
		if a.control.Paused() {
			a.control.Resume()
		} else {
			a.control.Pause()
		}
	}
	return nil
}

// answer sends the decision for the oldest pending intervention.
func (a *RunApp) answer(d orchestrator.InterventionDecision) {
	req := a.interventions[0]
	a.interventions = a.interventions[1:]
	select {
	case req.Reply <- d:
	default:
	}
	a.addLog(time.Now(), "intervention", fmt.Sprintf("%s: %s", req.Request.TaskID, d))
}

func (a *RunApp) addLog(ts time.Time, kind, message string) {
	if message == "" {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Kind: kind, Message: message})
	if len(a.logs) > 200 {
		a.logs = a.logs[len(a.logs)-200:]
	}
}

// describe turns an event into an activity log line. Events that only move
// the task table return "".
func describe(e orchestrator.Event) string {
	switch e.Type {
	case orchestrator.EventRunStarted:
		return fmt.Sprintf("run %s started", e.RunID)
	case orchestrator.EventTaskStarted:
		return fmt.Sprintf("%s started", e.TaskID)
	case orchestrator.EventAttemptFailed:
		return fmt.Sprintf("%s attempt %d failed (%s): %s", e.TaskID, e.Attempt, e.Kind, firstLine(e.Message))
	case orchestrator.EventRetryScheduled:
		return fmt.Sprintf("%s retrying in %s", e.TaskID, e.Delay.Round(time.Millisecond))
	case orchestrator.EventFallbackStarted:
		return fmt.Sprintf("%s running fallback", e.TaskID)
	case orchestrator.EventTaskSucceeded:
		return fmt.Sprintf("%s succeeded", e.TaskID)
	case orchestrator.EventTaskFailed:
		return fmt.Sprintf("%s failed: %s", e.TaskID, firstLine(e.Message))
	case orchestrator.EventTaskSkipped:
		return fmt.Sprintf("%s skipped: %s", e.TaskID, firstLine(e.Message))
	case orchestrator.EventRunPaused:
		return "dispatching paused"
	case orchestrator.EventRunResumed:
		return "dispatching resumed"
	case orchestrator.EventRunFinished:
		return fmt.Sprintf("run finished: %s", e.Status)
	}
	return ""
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render("=== pipewright ==="))
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	if len(a.interventions) > 0 {
		b.WriteString(a.renderIntervention())
		b.WriteString("\n")
	}

	b.WriteString(a.renderLogs())
	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	b.WriteString("\n")
	return b.String()
}

func (a *RunApp) renderIntervention() string {
	req := a.interventions[0].Request
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")).
		Render("Intervention required: " + req.TaskID))
	b.WriteString("\n")
	b.WriteString(req.Summary)
	b.WriteString("\n")
	for _, s := range req.SuggestedActions {
		b.WriteString("  - ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(a.keyStyle.Render("c"))
	b.WriteString(" continue without it   ")
	b.WriteString(a.keyStyle.Render("a"))
	b.WriteString(" abort the run")
	if n := len(a.interventions) - 1; n > 0 {
		b.WriteString(fmt.Sprintf("\n%d more waiting", n))
	}
	return a.interventionStyle.Render(b.String())
}

func (a *RunApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity"))
	b.WriteString("\n")

	start := max(len(a.logs)-maxLogLines, 0)
	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		kind := a.logKindStyle.Render(entry.Kind)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, a.logStyle.Render(entry.Message)))
	}
	return b.String()
}

func (a *RunApp) renderFooter() string {
	switch {
	case a.done && a.err != nil:
		return a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + a.hintStyle.Render("  q to exit")
	case a.done && a.result != nil && !a.result.Success:
		return a.errorStyle.Render(fmt.Sprintf("Run %s %s", a.result.RunID, a.result.Status)) + a.hintStyle.Render("  q to exit")
	case a.done:
		return a.doneStyle.Render("Run complete") + a.hintStyle.Render("  q to exit")
	case a.cancelRequested:
		return a.hintStyle.Render("Cancelling... q again to exit now")
	default:
		return a.hintStyle.Render("p pause/resume  q cancel")
	}
}

// PendingInterventions returns how many decisions are waiting on the user.
func (a *RunApp) PendingInterventions() int { return len(a.interventions) }

// Done reports whether the run has returned.
func (a *RunApp) Done() bool { return a.done }

// Logs returns the activity log.
func (a *RunApp) Logs() []LogEntry { return a.logs }

// State returns the current run state.
func (a *RunApp) State() RunState { return a.view.State() }
