package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/specrunner/internal/events"
)

// ProgressPaneModel shows the counters of the current run.
type ProgressPaneModel struct {
	runID     string
	mode      string
	state     string // Terminal state once the run finished
	total     int
	completed int
	skipped   int
	running   int
	pending   int
	bar       progress.Model
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates an idle progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunStartedEvent:
		m = ProgressPaneModel{bar: m.bar, width: m.width, height: m.height, focused: m.focused}
		m.runID = msg.RunID
		m.mode = msg.Mode
		m.total = msg.Total
		m.pending = msg.Total

	case events.RunProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.skipped = msg.Skipped
		m.running = msg.Running
		m.pending = msg.Pending

	case events.RunFinishedEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.skipped = msg.Skipped
		m.running = 0
		m.pending = max(msg.Total-msg.Completed-msg.Skipped, 0)
		m.state = msg.State
	}
	return m, nil
}

// Percent is the share of tasks resolved so far.
func (m ProgressPaneModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed+m.skipped) / float64(m.total)
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.runID == "" {
		b.WriteString(StyleStatusPending.Render("No run yet. Press r to start."))
	} else {
		fmt.Fprintf(&b, "Run:       %s (%s)\n", m.runID, m.mode)
		fmt.Fprintf(&b, "Total:     %d\n", m.total)
		fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
		fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
		fmt.Fprintf(&b, "Skipped:   %s\n", StyleStatusSkipped.Render(fmt.Sprint(m.skipped)))
		fmt.Fprintf(&b, "Pending:   %s\n\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))

		bar := m.bar
		bar.Width = max(min(m.width-16, 50), 10)
		fmt.Fprintf(&b, "%s  %d/%d\n", bar.ViewAs(m.Percent()), m.completed+m.skipped, m.total)

		if m.state != "" {
			b.WriteString("\n")
			b.WriteString(StyleNotice.Render("Finished: " + m.state))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
