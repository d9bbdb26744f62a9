// Package ui renders a live view of a manual capture session
package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lance13c/uimap/internal/types"
)

// EntryMsg carries one click log entry from the capture loop
type EntryMsg types.ClickLogEntry

// DoneMsg ends the view with the capture result
type DoneMsg struct {
	Result *types.Discovery
	Err    error
}

// Model is the capture view. The stop channel is closed once when the
// operator ends the capture; the view then waits for DoneMsg.
type Model struct {
	url     string
	width   int
	spinner spinner.Model
	styles  *Styles

	entries  []types.ClickLogEntry
	fields   map[string]bool
	kinds    map[types.ClickKind]int
	stopping bool
	done     *DoneMsg

	stop     chan struct{}
	stopOnce sync.Once
	visible  int
}

// NewModel creates a capture view for url
func NewModel(url string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return &Model{
		url:     url,
		spinner: s,
		styles:  NewStyles(),
		fields:  map[string]bool{},
		kinds:   map[types.ClickKind]int{},
		stop:    make(chan struct{}),
		visible: 12,
	}
}

// Stop is closed when the operator asks the capture to end
func (m *Model) Stop() <-chan struct{} {
	return m.stop
}

// Result returns the capture outcome once DoneMsg arrived
func (m *Model) Result() (*types.Discovery, error) {
	if m.done == nil {
		return nil, fmt.Errorf("capture did not finish")
	}
	return m.done.Result, m.done.Err
}

func (m *Model) requestStop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.stopping = true
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "enter", "esc":
			if m.done != nil {
				return m, tea.Quit
			}
			m.requestStop()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case EntryMsg:
		e := types.ClickLogEntry(msg)
		m.entries = append(m.entries, e)
		m.kinds[e.Kind]++
		for _, id := range e.NewlyDiscoveredFieldIDs {
			m.fields[id] = true
		}
		return m, nil

	case DoneMsg:
		m.done = &msg
		m.stopOnce.Do(func() { close(m.stop) })
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	header := m.styles.Header.Render("uimap capture  " + m.url)

	status := fmt.Sprintf("%s capturing: %d interactions, %d fields", m.spinner.View(), len(m.entries), len(m.fields))
	switch {
	case m.done != nil && m.done.Err != nil:
		status = m.styles.ErrorBox.Render("capture failed: " + m.done.Err.Error())
	case m.done != nil:
		status = m.styles.SuccessBox.Render(fmt.Sprintf("captured %d interactions, %d fields", len(m.entries), len(m.fields)))
	case m.stopping:
		status = fmt.Sprintf("%s finishing capture...", m.spinner.View())
	}

	footer := m.styles.Footer.Render("[click through the device UI] [q / Enter finish]")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		m.styles.Status.Render(status),
		"",
		m.renderEntries(),
		footer,
	)
}

func (m *Model) renderEntries() string {
	if len(m.entries) == 0 {
		return m.styles.Muted.Render("waiting for the first interaction")
	}
	start := 0
	if len(m.entries) > m.visible {
		start = len(m.entries) - m.visible
	}
	var lines []string
	for _, e := range m.entries[start:] {
		label := e.TargetText
		if label == "" {
			label = e.URLAfter
		}
		line := m.styles.Kind.Render(string(e.Kind)) + truncate(label, 48)
		if n := len(e.NewlyDiscoveredFieldIDs); n > 0 {
			line += m.styles.Muted.Render(fmt.Sprintf("  +%d fields", n))
		}
		if e.Diagnostic {
			line += m.styles.Muted.Render("  (diagnostic)")
		}
		lines = append(lines, line)
	}
	box := m.styles.EntryBox
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	return box.Render(strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
