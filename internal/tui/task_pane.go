package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/specrunner/internal/events"
)

// Task display statuses.
const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusSkipped   = "skipped"
)

// TaskState is what the pane knows about one task of the current run.
type TaskState struct {
	ID        string
	Title     string
	Status    string
	Reason    string
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel shows the run's tasks and the output of the selected one.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // task ID -> state
	order       []string              // first-seen order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // debounces output refreshes
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refresh()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.RunStartedEvent:
		m.tasks = make(map[string]*TaskState)
		m.order = nil
		m.selectedIdx = 0
		m.refresh()

	case events.TaskStartedEvent:
		t := m.task(msg.ID, msg.Title)
		t.Status = statusRunning
		t.StartTime = msg.Timestamp
		if m.selected() == msg.ID {
			m.refresh()
		}

	case events.TaskOutputEvent:
		t, ok := m.tasks[msg.ID]
		if !ok {
			break
		}
		t.Output = append(t.Output, msg.Line)
		if m.selected() == msg.ID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.TaskCompletedEvent:
		t := m.task(msg.ID, msg.Title)
		t.Status = statusCompleted
		if !t.StartTime.IsZero() {
			t.Duration = msg.Timestamp.Sub(t.StartTime)
			t.Output = append(t.Output, fmt.Sprintf("\n[Completed in %v]", t.Duration.Round(time.Millisecond)))
		}
		if m.selected() == msg.ID {
			m.refresh()
		}

	case events.TaskSkippedEvent:
		t := m.task(msg.ID, msg.Title)
		t.Status = statusSkipped
		t.Reason = msg.Reason
		t.Output = append(t.Output, fmt.Sprintf("\n[Skipped: %s]", msg.Reason))
		if m.selected() == msg.ID {
			m.refresh()
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.refresh()
		}
	}

	return m, cmd
}

// task returns the state for id, adding it on first sight.
func (m *TaskPaneModel) task(id, title string) *TaskState {
	if t, ok := m.tasks[id]; ok {
		if title != "" {
			t.Title = title
		}
		return t
	}
	t := &TaskState{ID: id, Title: title}
	m.tasks[id] = t
	m.order = append(m.order, id)
	if len(m.order) == 1 {
		m.selectedIdx = 0
		m.refresh()
	}
	return t
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	outputWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(outputWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		t := m.tasks[id]
		label := t.ID
		if t.Title != "" {
			label += " " + t.Title
		}
		if len(label) > width-4 && width > 7 {
			label = label[:width-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(t.Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case statusRunning:
		return StyleStatusRunning.Render("●")
	case statusCompleted:
		return StyleStatusComplete.Render("✓")
	case statusSkipped:
		return StyleStatusSkipped.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) selected() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected task, if any.
func (m TaskPaneModel) Selected() (TaskState, bool) {
	t, ok := m.tasks[m.selected()]
	if !ok {
		return TaskState{}, false
	}
	return *t, true
}

func (m *TaskPaneModel) refresh() {
	t, ok := m.tasks[m.selected()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(t.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-28-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
