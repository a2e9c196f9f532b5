package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// TaskRow is one task line in the run view.
type TaskRow struct {
	ID      string
	Status  models.TaskStatus
	Attempt int
	Note    string // latest error, retry delay or skip cause
}

// RunState is everything the run view renders.
type RunState struct {
	Workflow string
	RunID    string
	Status   models.RunStatus
	Progress models.Progress
	Paused   bool
	Tasks    []TaskRow
	// index maps task id -> position in Tasks
	index map[string]int
}

// NewRunState creates a state with every task pending in execution order.
func NewRunState(workflow string, order []string) RunState {
	s := RunState{
		Workflow: workflow,
		Status:   models.RunStatusIdle,
		Tasks:    make([]TaskRow, len(order)),
		index:    make(map[string]int, len(order)),
	}
	for i, id := range order {
		s.Tasks[i] = TaskRow{ID: id, Status: models.TaskStatusPending}
		s.index[id] = i
	}
	s.Progress.Total = len(order)
	s.Progress.Pending = len(order)
	return s
}

// Row returns the row for a task.
func (s *RunState) Row(id string) (TaskRow, bool) {
	i, ok := s.index[id]
	if !ok {
		return TaskRow{}, false
	}
	return s.Tasks[i], true
}

func (s *RunState) row(id string) *TaskRow {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	i, ok := s.index[id]
	if !ok {
		s.Tasks = append(s.Tasks, TaskRow{ID: id, Status: models.TaskStatusPending})
		i = len(s.Tasks) - 1
		s.index[id] = i
	}
	return &s.Tasks[i]
}

// Apply folds an event into the state.
func (s *RunState) Apply(e orchestrator.Event) {
	if e.RunID != "" {
		s.RunID = e.RunID
	}
	if e.Progress.Total > 0 {
		s.Progress = e.Progress
	}

	switch e.Type {
	case orchestrator.EventRunStarted:
		s.Status = models.RunStatusRunning
	case orchestrator.EventRunFinished:
		s.Status = e.Status
		s.Paused = false
	case orchestrator.EventRunPaused:
		s.Paused = true
	case orchestrator.EventRunResumed:
		s.Paused = false
	case orchestrator.EventTaskStarted:
		r := s.row(e.TaskID)
		r.Status = models.TaskStatusRunning
		r.Attempt = max(r.Attempt, 1)
		r.Note = ""
	case orchestrator.EventAttemptFailed:
		r := s.row(e.TaskID)
		r.Attempt = e.Attempt
		r.Note = fmt.Sprintf("%s: %s", e.Kind, firstLine(e.Message))
	case orchestrator.EventRetryScheduled:
		r := s.row(e.TaskID)
		r.Attempt = e.Attempt
		r.Note = fmt.Sprintf("retry in %s", e.Delay.Round(time.Millisecond))
	case orchestrator.EventFallbackStarted:
		s.row(e.TaskID).Note = "running fallback"
	case orchestrator.EventInterventionRequested:
		s.row(e.TaskID).Note = "waiting for decision"
	case orchestrator.EventTaskSucceeded:
		r := s.row(e.TaskID)
		r.Status = models.TaskStatusSucceeded
		if e.Attempt > 0 {
			r.Attempt = e.Attempt
		}
		r.Note = ""
		if e.Message != "" {
			r.Note = "via " + e.Message
		}
	case orchestrator.EventTaskFailed:
		r := s.row(e.TaskID)
		r.Status = models.TaskStatusFailed
		r.Note = firstLine(e.Message)
	case orchestrator.EventTaskSkipped:
		r := s.row(e.TaskID)
		r.Status = models.TaskStatusSkipped
		r.Note = firstLine(e.Message)
	}
}

// RunView renders the run progress panel.
type RunView struct {
	state   RunState
	bar     progress.Model
	spinner spinner.Model
	width   int
	height  int

	// Styles
	headerStyle    lipgloss.Style
	labelStyle     lipgloss.Style
	valueStyle     lipgloss.Style
	noteStyle      lipgloss.Style
	pausedStyle    lipgloss.Style
	succeededStyle lipgloss.Style
	failedStyle    lipgloss.Style
	skippedStyle   lipgloss.Style
	pendingStyle   lipgloss.Style
}

// NewRunView creates a view for the given initial state.
func NewRunView(state RunState) *RunView {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &RunView{
		state:   state,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		spinner: sp,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		noteStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		succeededStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		skippedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// Init starts the spinner.
func (v *RunView) Init() tea.Cmd {
	return v.spinner.Tick
}

// Update handles input messages.
func (v *RunView) Update(msg tea.Msg) (*RunView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetSize(msg.Width, msg.Height)
	case EventMsg:
		v.state.Apply(msg.Event)
	case spinner.TickMsg:
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd
	}
	return v, nil
}

// View renders the progress panel.
func (v *RunView) View() string {
	var b strings.Builder

	title := "Workflow"
	if v.state.Workflow != "" {
		title = "Workflow " + v.state.Workflow
	}
	b.WriteString(v.headerStyle.Render(title))
	b.WriteString("\n")

	if v.state.RunID != "" {
		b.WriteString(v.labelStyle.Render("Run:"))
		b.WriteString(v.valueStyle.Render(v.state.RunID))
		b.WriteString("\n")
	}

	status := string(v.state.Status)
	b.WriteString(v.labelStyle.Render("Status:"))
	if v.state.Paused {
		b.WriteString(v.pausedStyle.Render("paused"))
	} else {
		b.WriteString(v.valueStyle.Render(status))
	}
	b.WriteString("\n")

	p := v.state.Progress
	b.WriteString(v.labelStyle.Render("Tasks:"))
	b.WriteString(v.valueStyle.Render(fmt.Sprintf("%d/%d done", p.Done(), p.Total)))
	b.WriteString(fmt.Sprintf("  %s ok  %s failed  %s skipped",
		v.succeededStyle.Render(fmt.Sprintf("%d", p.Succeeded)),
		v.failedStyle.Render(fmt.Sprintf("%d", p.Failed)),
		v.skippedStyle.Render(fmt.Sprintf("%d", p.Skipped))))
	b.WriteString("\n")

	b.WriteString("  ")
	b.WriteString(v.bar.ViewAs(p.Percentage / 100))
	b.WriteString("\n\n")

	for _, row := range v.state.Tasks {
		b.WriteString(v.renderRow(row))
		b.WriteString("\n")
	}

	return b.String()
}

func (v *RunView) renderRow(row TaskRow) string {
	var marker string
	switch row.Status {
	case models.TaskStatusRunning:
		marker = v.spinner.View()
	case models.TaskStatusSucceeded:
		marker = v.succeededStyle.Render("✓")
	case models.TaskStatusFailed:
		marker = v.failedStyle.Render("✗")
	case models.TaskStatusSkipped:
		marker = v.skippedStyle.Render("-")
	default:
		marker = v.pendingStyle.Render("·")
	}

	line := fmt.Sprintf("  %s %-24s", marker, row.ID)
	if row.Attempt > 1 {
		line += fmt.Sprintf(" attempt %d", row.Attempt)
	}
	if row.Note != "" {
		note := row.Note
		if limit := v.width - 40; limit > 10 && len(note) > limit {
			note = note[:limit-3] + "..."
		}
		line += "  " + v.noteStyle.Render(note)
	}
	return line
}

// SetSize sets the view dimensions.
func (v *RunView) SetSize(width, height int) {
	v.width = width
	v.height = height
	if w := width - 20; w > 10 && w < 60 {
		v.bar.Width = w
	}
}

// State returns the current run state.
func (v *RunView) State() RunState {
	return v.state
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
