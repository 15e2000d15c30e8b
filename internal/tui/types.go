package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/lookout/internal/session"
)

// view is one of the top-level screens.
type view int

const (
	viewTasks view = iota
	viewAsyncOps
	viewResources
	viewWarnings
)

var viewNames = []string{"Tasks", "Async Ops", "Resources", "Warnings"}

func (v view) String() string { return viewNames[v] }

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Left      key.Binding
	Right     key.Binding
	Invert    key.Binding
	NextView  key.Binding
	PrevView  key.Binding
	Tasks     key.Binding
	AsyncOps  key.Binding
	Resources key.Binding
	Warnings  key.Binding
	Enter     key.Binding
	Back      key.Binding
	Filter    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Left:      key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "sort left")),
	Right:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "sort right")),
	Invert:    key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "invert sort")),
	NextView:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	PrevView:  key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev view")),
	Tasks:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "tasks")),
	AsyncOps:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "async ops")),
	Resources: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resources")),
	Warnings:  key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "warnings")),
	Enter:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Filter:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter tasks")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Left, k.Right, k.NextView, k.Enter, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Back},
		{k.Left, k.Right, k.Invert, k.Filter},
		{k.NextView, k.PrevView, k.Tasks, k.AsyncOps, k.Resources, k.Warnings},
		{k.Help, k.Quit},
	}
}

// eventMsg carries one feed event into the update loop.
type eventMsg session.Event

// feedDoneMsg reports that the feed channel closed.
type feedDoneMsg struct{}

type tickMsg time.Time

func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return feedDoneMsg{}
		}
		return eventMsg(ev)
	}
}
