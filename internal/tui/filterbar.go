package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/state"
)

var (
	filterBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// FilterBarModel narrows the task list to tasks whose name, target or
// location contains the query.
type FilterBarModel struct {
	input   textinput.Model
	focused bool
	query   string
}

// NewFilterBarModel creates an empty filter bar.
func NewFilterBarModel() *FilterBarModel {
	ti := textinput.New()
	ti.Placeholder = "name, target or location"
	ti.CharLimit = 128
	return &FilterBarModel{input: ti}
}

// Focus starts editing the query.
func (m *FilterBarModel) Focus() {
	m.focused = true
	m.input.SetValue(m.query)
	m.input.CursorEnd()
	m.input.Focus()
}

// Focused reports whether the query is being edited.
func (m *FilterBarModel) Focused() bool { return m.focused }

// Apply keeps the edited query and stops editing.
func (m *FilterBarModel) Apply() {
	m.query = strings.TrimSpace(m.input.Value())
	m.focused = false
	m.input.Blur()
}

// Clear drops the query and stops editing.
func (m *FilterBarModel) Clear() {
	m.query = ""
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Query returns the active query. While editing it is the text typed so far.
func (m *FilterBarModel) Query() string {
	if m.focused {
		return strings.TrimSpace(m.input.Value())
	}
	return m.query
}

// Match reports whether t passes the filter.
func (m *FilterBarModel) Match(t *state.Task) bool {
	q := strings.ToLower(m.Query())
	if q == "" {
		return true
	}
	for _, s := range []string{t.Name(), t.Target(), t.Location()} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// Update forwards input while editing.
func (m *FilterBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the bar, or nothing when no filter is set.
func (m *FilterBarModel) View() string {
	switch {
	case m.focused:
		return filterBarStyle.Render(promptStyle.Render("/ ") + m.input.View())
	case m.query != "":
		return filterBarStyle.Render("filter: " + m.query + "  (/ to edit, esc to clear)")
	default:
		return ""
	}
}
