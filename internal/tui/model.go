// Package tui is the terminal front end: live run progress, task output and
// a settings form.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// Controller starts and cancels runs on behalf of the UI.
type Controller interface {
	Start() error
	Cancel()
}

// Options configures the TUI model.
type Options struct {
	Bus         *events.EventBus
	Holder      *config.Holder
	Controller  Controller // Optional; r and c do nothing without it
	GlobalPath  string
	ProjectPath string
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	bus          *events.EventBus
	eventSub     <-chan events.Event
	controller   Controller
	notice       string
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates the root model. It subscribes to every event on the bus.
func New(opts Options) Model {
	holder := opts.Holder
	if holder == nil {
		holder = config.NewHolder(nil)
	}
	return Model{
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		settingsPane: NewSettingsPaneModel(holder, opts.GlobalPath, opts.ProjectPath),
		focusedPane:  PaneTasks,
		bus:          opts.Bus,
		eventSub:     opts.Bus.SubscribeAll(256),
		controller:   opts.Controller,
	}
}

// Init waits for the first bus event.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once the bus closes the subscription.
type busClosedMsg struct{}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// runStartedMsg reports the result of asking the controller for a run.
type runStartedMsg struct {
	err error
}

func (m Model) startRun() tea.Cmd {
	c := m.controller
	return func() tea.Msg {
		return runStartedMsg{err: c.Start()}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
				if m.settingsPane.Saved() {
					m.notice = "Settings saved; they apply to the next run."
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			if m.controller != nil {
				m.controller.Cancel()
			}
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyRun:
			if m.controller != nil {
				m.notice = "Starting run..."
				cmds = append(cmds, m.startRun())
			}

		case KeyCancel:
			if m.controller != nil {
				m.controller.Cancel()
				m.notice = "Cancel requested."
			}

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case runStartedMsg:
		if msg.err != nil {
			m.notice = "Run failed to start: " + msg.err.Error()
		} else {
			m.notice = ""
		}

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskStartedEvent, events.TaskOutputEvent, events.TaskCompletedEvent, events.TaskSkippedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunStartedEvent:
		m.notice = ""
		m.taskPane, _ = m.taskPane.Update(msg)
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.RunProgressEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.RunFinishedEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		if n := m.bus.Dropped(); n > 0 {
			m.notice = fmt.Sprintf("%d events dropped by slow subscribers.", n)
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Not displayed.
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		m.notice = "Event bus closed."

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	footer := HelpView()
	if m.notice != "" {
		footer = StyleNotice.Render(m.notice) + "  " + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

// computeLayout splits the screen 65/35 between tasks and progress.
func (m *Model) computeLayout() {
	taskWidth := (m.width * 65) / 100
	available := m.height - 1

	m.taskPane.SetSize(taskWidth, available)
	m.progressPane.SetSize(m.width-taskWidth, available)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
