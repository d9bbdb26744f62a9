package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestEntriesAreCounted(t *testing.T) {
	m := NewModel("http://printer.local/")
	m.Update(EntryMsg{Kind: types.ClickNavigate, URLAfter: "http://printer.local/", NewlyDiscoveredFieldIDs: []string{"a", "b"}, Synthetic: true})
	m.Update(EntryMsg{Kind: types.ClickTab, TargetText: "Network", NewlyDiscoveredFieldIDs: []string{"b", "c"}})
	m.Update(EntryMsg{Kind: types.ClickSystemAlert, TargetText: "OK", Diagnostic: true})

	assert.Len(t, m.entries, 3)
	assert.Len(t, m.fields, 3)
	assert.Equal(t, 1, m.kinds[types.ClickTab])

	view := m.View()
	assert.Contains(t, view, "3 interactions, 3 fields")
	assert.Contains(t, view, "Network")
	assert.Contains(t, view, "(diagnostic)")
}

func TestQuitKeyStopsCaptureOnce(t *testing.T) {
	m := NewModel("http://printer.local/")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	assert.True(t, isClosed(m.Stop()))
	assert.Contains(t, m.View(), "finishing capture")

	// a second request must not close the channel again
	assert.NotPanics(t, func() { m.Update(tea.KeyMsg{Type: tea.KeyEnter}) })

	_, err := m.Result()
	assert.Error(t, err)
}

func TestDoneQuitsWithResult(t *testing.T) {
	m := NewModel("http://printer.local/")
	want := &types.Discovery{Fields: []types.FieldEntry{{ID: "x"}}}
	_, cmd := m.Update(DoneMsg{Result: want})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, isClosed(m.Stop()))

	got, err := m.Result()
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Contains(t, m.View(), "captured 0 interactions")
}

func TestDoneWithError(t *testing.T) {
	m := NewModel("http://printer.local/")
	m.Update(DoneMsg{Err: errors.New("browser went away")})
	_, err := m.Result()
	assert.EqualError(t, err, "browser went away")
	assert.Contains(t, m.View(), "browser went away")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestWriteTable(t *testing.T) {
	var b strings.Builder
	WriteTable(&b, []string{"RUN", "STATUS"}, [][]string{{"abc", "completed"}, {"d", "failed"}})
	assert.Equal(t, "RUN  STATUS\n---  ---------\nabc  completed\nd    failed\n", b.String())
}

func TestInitWizardCollectsDevice(t *testing.T) {
	m := NewInitWizardModel(config.DefaultConfig())
	answer := func(v string) {
		m.textInput.SetValue(v)
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}
	answer("lab-printer")
	answer("http://10.0.0.9/")
	answer("/#/settings")

	m.textInput.SetValue("ro")
	m.updateSuggestions()
	assert.Equal(t, []string{"rod"}, m.filteredSugs)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "rod", m.textInput.Value())
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	answer("")
	require.Equal(t, StepComplete, m.step)
	assert.Contains(t, m.View(), "http://10.0.0.9/#/settings")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.IsFinished())

	cfg := m.GetConfig()
	assert.Equal(t, "lab-printer", cfg.Current)
	assert.Equal(t, "http://10.0.0.9", cfg.Devices["lab-printer"].BaseURL)
	assert.Equal(t, "/#/settings", cfg.Devices["lab-printer"].Location)
	assert.Equal(t, "rod", cfg.Browser.Engine)
	assert.Empty(t, cfg.Browser.RemoteURL)
}

func TestInitWizardCancel(t *testing.T) {
	m := NewInitWizardModel(nil)
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.IsCancelled())
	assert.Empty(t, m.View())
}
