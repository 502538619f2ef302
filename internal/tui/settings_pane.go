package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/specrunner/internal/config"
)

// SettingsPaneModel is the run settings form overlay. Saved values are
// applied to the shared Holder, so the next run picks them up.
type SettingsPaneModel struct {
	form        *huh.Form
	holder      *config.Holder
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget     string
	project        string
	runMode        string
	executionMode  string
	maxConcurrency string
	cliTool        string
}

// NewSettingsPaneModel creates a hidden settings pane editing holder.
func NewSettingsPaneModel(holder *config.Holder, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		holder:      holder,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.buildForm()
	return m
}

// loadFields copies the current configuration into the form bindings.
func (m *SettingsPaneModel) loadFields() {
	cfg := m.holder.Get()
	m.saveTarget = "project"
	m.project = cfg.Project
	m.runMode = strings.ToLower(cfg.RunMode)
	if m.runMode != config.RunModeCLI {
		m.runMode = config.RunModeLLM
	}
	m.executionMode = "sequential"
	if strings.EqualFold(cfg.ExecutionMode, "parallel") {
		m.executionMode = "parallel"
	}
	m.maxConcurrency = strconv.Itoa(cfg.MaxConcurrency)
	m.cliTool = cfg.CLITool
}

func (m *SettingsPaneModel) buildForm() {
	m.loadFields()

	tools := []huh.Option[string]{huh.NewOption("(none)", "")}
	for _, t := range m.holder.Get().Tools {
		label := t.Name
		if !t.Enabled {
			label += " (disabled)"
		}
		tools = append(tools, huh.NewOption(label, t.Name))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("project").
				Title("Project").
				Value(&m.project).
				Placeholder("default"),

			huh.NewSelect[string]().
				Key("runMode").
				Title("Run Mode").
				Options(
					huh.NewOption("Conversational (llm)", config.RunModeLLM),
					huh.NewOption("Command-line tool (cli)", config.RunModeCLI),
				).
				Value(&m.runMode),

			huh.NewSelect[string]().
				Key("executionMode").
				Title("Execution Mode").
				Options(
					huh.NewOption("Sequential", "sequential"),
					huh.NewOption("Parallel layers", "parallel"),
				).
				Value(&m.executionMode),

			huh.NewInput().
				Key("maxConcurrency").
				Title("Max Concurrency").
				Value(&m.maxConcurrency).
				Validate(validateConcurrency),

			huh.NewSelect[string]().
				Key("cliTool").
				Title("CLI Tool").
				Options(tools...).
				Value(&m.cliTool),
		).Title("Run Settings"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project (.specrunner/config.json)", "project"),
					huh.NewOption("Global (~/.specrunner/config.json)", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),
	)
}

func validateConcurrency(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

// Init initializes the form.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.apply()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// apply updates the holder and writes the chosen config file.
func (m *SettingsPaneModel) apply() error {
	cfg := m.holder.Get()
	applyFields(cfg, m.project, m.runMode, m.executionMode, m.maxConcurrency, m.cliTool)
	m.holder.Set(cfg)

	path := m.projectPath
	if m.saveTarget == "global" {
		path = m.globalPath
	}
	if path == "" {
		return nil
	}
	return config.Save(cfg, path)
}

func applyFields(cfg *config.Config, project, runMode, executionMode, maxConcurrency, cliTool string) {
	cfg.Project = strings.TrimSpace(project)
	cfg.RunMode = runMode
	cfg.ExecutionMode = executionMode
	if n, err := strconv.Atoi(strings.TrimSpace(maxConcurrency)); err == nil && n > 0 {
		cfg.MaxConcurrency = n
	}
	cfg.CLITool = cliTool
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(m.width-4, 20)).
		Height(max(m.height-4, 10))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(w-8, 20)).WithHeight(max(h-8, 10))
	}
}

// SetVisible shows or hides the pane. Showing it rebuilds the form from the
// current configuration.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.buildForm()
		if m.width > 0 {
			m.SetSize(m.width, m.height)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was applied.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
