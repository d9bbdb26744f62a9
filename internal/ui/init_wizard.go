package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lance13c/uimap/internal/config"
)

// InitStep is one question of the init wizard
type InitStep int

const (
	StepDeviceName InitStep = iota
	StepBaseURL
	StepLocation
	StepEngine
	StepRemoteURL
	StepComplete
)

var stepTitles = map[InitStep]string{
	StepDeviceName: "Device Name",
	StepBaseURL:    "Device Base URL",
	StepLocation:   "Start Route (optional)",
	StepEngine:     "Browser Engine",
	StepRemoteURL:  "Running Chrome DevTools URL (optional)",
	StepComplete:   "Complete",
}

// InitWizardModel asks for the device and browser settings of a new
// configuration
type InitWizardModel struct {
	step      InitStep
	width     int
	finished  bool
	cancelled bool

	textInput    textinput.Model
	suggestions  []string
	filteredSugs []string
	selectedSug  int

	config *config.Config
	device config.DeviceConfig

	titleStyle       lipgloss.Style
	stepStyle        lipgloss.Style
	inputStyle       lipgloss.Style
	suggestStyle     lipgloss.Style
	selectedSugStyle lipgloss.Style
	helpStyle        lipgloss.Style
}

// NewInitWizardModel starts from existing, or from defaults when nil
func NewInitWizardModel(existing *config.Config) *InitWizardModel {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 60

	cfg := existing
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	device := config.DeviceConfig{Name: "default", BaseURL: "http://192.168.1.100"}
	if d := cfg.GetCurrentDevice(); d != nil {
		device = *d
	}

	m := &InitWizardModel{
		step:      StepDeviceName,
		width:     80,
		textInput: ti,
		config:    cfg,
		device:    device,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1),

		stepStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")),

		inputStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1),

		suggestStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			PaddingLeft(2),

		selectedSugStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(1).
			PaddingRight(1),

		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginTop(1),
	}
	m.setupStepInput()
	return m
}

// Init implements tea.Model
func (m *InitWizardModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m *InitWizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit

		case "enter":
			if len(m.filteredSugs) > 0 && m.selectedSug > 0 {
				m.textInput.SetValue(m.filteredSugs[m.selectedSug])
				m.filteredSugs = nil
				m.selectedSug = 0
				return m, nil
			}
			if m.step == StepComplete {
				m.finished = true
				return m, tea.Quit
			}
			m.saveCurrentStep(strings.TrimSpace(m.textInput.Value()))
			m.step++
			m.setupStepInput()

		case "tab":
			if len(m.filteredSugs) > 0 {
				m.textInput.SetValue(m.filteredSugs[m.selectedSug])
				m.textInput.CursorEnd()
				m.filteredSugs = nil
				m.selectedSug = 0
			}

		case "up":
			if m.selectedSug > 0 {
				m.selectedSug--
			}

		case "down":
			if m.selectedSug < len(m.filteredSugs)-1 {
				m.selectedSug++
			}

		default:
			m.textInput, cmd = m.textInput.Update(msg)
			m.updateSuggestions()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.textInput.Width = msg.Width - 4

	default:
		m.textInput, cmd = m.textInput.Update(msg)
	}

	return m, cmd
}

// View implements tea.Model
func (m *InitWizardModel) View() string {
	if m.finished || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.titleStyle.Render("uimap init"))
	b.WriteString("\n")
	b.WriteString(m.stepStyle.Render(fmt.Sprintf("Step %d of %d", int(m.step)+1, int(StepComplete)+1)))
	b.WriteString("\n\n")

	if m.step == StepComplete {
		b.WriteString(m.stepStyle.Render("✓ Configuration complete"))
		b.WriteString("\n")
		b.WriteString(m.suggestStyle.Render("start page: " + m.device.StartURL()))
		b.WriteString("\n")
		b.WriteString(m.helpStyle.Render("Press enter to write the configuration..."))
		return b.String()
	}

	b.WriteString(m.stepStyle.Render(stepTitles[m.step] + ":"))
	b.WriteString("\n")
	b.WriteString(m.inputStyle.Render(m.textInput.View()))
	b.WriteString("\n")

	for i, s := range m.filteredSugs {
		if i == m.selectedSug {
			b.WriteString(m.selectedSugStyle.Render("→ " + s))
		} else {
			b.WriteString(m.suggestStyle.Render("  " + s))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.helpStyle.Render("[Enter] next  [Tab] complete  [Esc] cancel"))
	return b.String()
}

// setupStepInput loads the current value and suggestions of the step
func (m *InitWizardModel) setupStepInput() {
	m.suggestions = nil
	m.filteredSugs = nil
	m.selectedSug = 0
	m.textInput.Placeholder = ""

	switch m.step {
	case StepDeviceName:
		m.textInput.SetValue(m.device.Name)
	case StepBaseURL:
		m.textInput.SetValue(m.device.BaseURL)
		m.textInput.Placeholder = "http://192.168.1.100"
	case StepLocation:
		m.textInput.SetValue(m.device.Location)
		m.textInput.Placeholder = "/#/settings"
	case StepEngine:
		m.textInput.SetValue(m.config.Browser.Engine)
		m.suggestions = []string{"chromedp", "rod"}
	case StepRemoteURL:
		m.textInput.SetValue(m.config.Browser.RemoteURL)
		m.textInput.Placeholder = "http://127.0.0.1:9222"
	default:
		m.textInput.SetValue("")
	}
	m.textInput.CursorEnd()
}

func (m *InitWizardModel) updateSuggestions() {
	input := strings.ToLower(m.textInput.Value())
	m.filteredSugs = nil
	m.selectedSug = 0
	for _, s := range m.suggestions {
		if strings.HasPrefix(s, input) && s != input {
			m.filteredSugs = append(m.filteredSugs, s)
		}
	}
}

func (m *InitWizardModel) saveCurrentStep(value string) {
	switch m.step {
	case StepDeviceName:
		if value != "" {
			m.device.Name = value
		}
	case StepBaseURL:
		if value != "" {
			m.device.BaseURL = strings.TrimRight(value, "/")
		}
	case StepLocation:
		m.device.Location = value
	case StepEngine:
		if value != "" {
			m.config.Browser.Engine = strings.ToLower(value)
		}
	case StepRemoteURL:
		m.config.Browser.RemoteURL = value
	}
}

// IsFinished reports whether the operator confirmed the last step
func (m *InitWizardModel) IsFinished() bool {
	return m.finished
}

// IsCancelled reports whether the operator left early
func (m *InitWizardModel) IsCancelled() bool {
	return m.cancelled
}

// GetConfig returns the configuration with the answered device made current
func (m *InitWizardModel) GetConfig() *config.Config {
	if m.config.Devices == nil {
		m.config.Devices = map[string]config.DeviceConfig{}
	}
	m.config.Devices[m.device.Name] = m.device
	m.config.Current = m.device.Name
	return m.config
}

// RunInitWizard runs the wizard on the terminal. A nil config means the
// operator cancelled.
func RunInitWizard(existing *config.Config) (*config.Config, error) {
	model := NewInitWizardModel(existing)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return nil, fmt.Errorf("init wizard failed: %w", err)
	}
	if model.IsCancelled() || !model.IsFinished() {
		return nil, nil
	}
	return model.GetConfig(), nil
}
