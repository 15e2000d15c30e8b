// Package tui provides the interactive terminal console for lookout.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/feed"
	"github.com/fentz26/lookout/internal/session"
	"github.com/fentz26/lookout/internal/state"
	"go.uber.org/zap"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(cyanColor)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(fgColor).
			Background(primaryColor).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	connectedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(errorColor)
)

// Options configures the console.
type Options struct {
	// Target is shown in the header.
	Target string
	// RefreshInterval is how often durations redraw and completed entities
	// are swept.
	RefreshInterval time.Duration
	// Connected reports the feed's connection status. Nil hides the
	// indicator.
	Connected func() bool
	Logger    *zap.Logger
}

// App is the console's bubbletea model. Feed updates, sweeps and key presses
// are all handled in Update, so it alone mutates the session state.
type App struct {
	session *session.Session
	events  <-chan session.Event
	opts    Options
	logger  *zap.Logger

	view      view
	tasks     *table[state.Task]
	asyncOps  *table[state.AsyncOp]
	resources *table[state.Resource]
	detail    *TaskDetailModel
	filter    *FilterBarModel
	help      help.Model

	now      time.Time
	message  string
	isError  bool
	feedDone bool
	width    int
	height   int
}

// New creates the console for sess.
func New(sess *session.Session, opts Options) *App {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		session:   sess,
		opts:      opts,
		logger:    logger,
		tasks:     newTaskTable(),
		asyncOps:  newAsyncOpTable(),
		resources: newResourceTable(),
		detail:    NewTaskDetailModel(),
		filter:    NewFilterBarModel(),
		help:      help.New(),
		width:     120,
		height:    40,
	}
}

// Run starts reading the feed and runs the console until the user quits or
// ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.events = a.session.Pump(ctx)

	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(a.events),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.detail.SetSize(msg.Width, a.bodyHeight())
		return a, nil

	case eventMsg:
		a.handleEvent(session.Event(msg))
		return a, waitForEvent(a.events)

	case feedDoneMsg:
		a.feedDone = true
		return a, nil

	case tickMsg:
		a.session.Sweep(a.session.Now())
		a.refresh()
		return a, a.tickCmd()

	case tea.KeyMsg:
		return a, a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleEvent(ev session.Event) {
	if err := a.session.Handle(ev); err != nil {
		a.setError(err.Error())
	} else if errors.Is(ev.Err, feed.ErrClosed) {
		a.setMessage("feed closed")
	}
	a.refresh()
}

// refresh drains new entities, drops evicted ones and re-sorts every table
// as of the latest update.
func (a *App) refresh() {
	a.now = a.session.Now()
	st := a.session.State()

	a.tasks.add(st.Tasks().TakeNew())
	a.asyncOps.add(st.AsyncOps().TakeNew())
	a.resources.add(st.Resources().TakeNew())
	a.tasks.prune()
	a.asyncOps.prune()
	a.resources.prune()

	taskSort, _ := state.TaskSortByColumn(a.tasks.column)
	a.tasks.rebuild(func(refs []state.Ref[state.Task]) {
		taskSort.Sort(a.now, refs, a.tasks.descending)
	}, a.filter.Match)

	opSort, _ := state.AsyncOpSortByColumn(a.asyncOps.column)
	a.asyncOps.rebuild(func(refs []state.Ref[state.AsyncOp]) {
		opSort.Sort(a.now, refs, a.asyncOps.descending)
	}, nil)

	a.resources.rebuild(sortResources, nil)

	if a.detail.IsOpen() && !a.detail.Refresh(st, a.now) {
		a.closeDetail()
		a.setMessage(fmt.Sprintf("task %s is no longer tracked", a.detail.TaskID()))
	}
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}

	if a.filter.Focused() {
		switch msg.String() {
		case "enter":
			a.filter.Apply()
		case "esc":
			a.filter.Clear()
		default:
			cmd := a.filter.Update(msg)
			a.refresh()
			return cmd
		}
		a.refresh()
		return nil
	}

	if a.detail.IsOpen() {
		switch {
		case key.Matches(msg, keys.Back):
			a.closeDetail()
			return nil
		case key.Matches(msg, keys.Quit):
			return tea.Quit
		}
		return a.detail.Update(msg)
	}

	a.message = ""
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.Help):
		a.help.ShowAll = !a.help.ShowAll
	case key.Matches(msg, keys.NextView):
		a.view = (a.view + 1) % view(len(viewNames))
	case key.Matches(msg, keys.PrevView):
		a.view = (a.view + view(len(viewNames)) - 1) % view(len(viewNames))
	case key.Matches(msg, keys.Tasks):
		a.view = viewTasks
	case key.Matches(msg, keys.AsyncOps):
		a.view = viewAsyncOps
	case key.Matches(msg, keys.Resources):
		a.view = viewResources
	case key.Matches(msg, keys.Warnings):
		a.view = viewWarnings
	case key.Matches(msg, keys.Up):
		a.moveSelection(-1)
	case key.Matches(msg, keys.Down):
		a.moveSelection(1)
	case key.Matches(msg, keys.Left):
		a.shiftSort(-1)
	case key.Matches(msg, keys.Right):
		a.shiftSort(1)
	case key.Matches(msg, keys.Invert):
		a.invertSort()
	case key.Matches(msg, keys.Enter):
		a.openDetail()
	case key.Matches(msg, keys.Filter):
		a.view = viewTasks
		a.filter.Focus()
	case key.Matches(msg, keys.Back):
		if a.filter.Query() != "" {
			a.filter.Clear()
			a.refresh()
		}
	}
	return nil
}

func (a *App) moveSelection(delta int) {
	switch a.view {
	case viewTasks:
		a.tasks.move(delta)
	case viewAsyncOps:
		a.asyncOps.move(delta)
	case viewResources:
		a.resources.move(delta)
	}
}

func (a *App) shiftSort(delta int) {
	switch a.view {
	case viewTasks:
		a.tasks.shiftColumn(delta)
	case viewAsyncOps:
		a.asyncOps.shiftColumn(delta)
	default:
		return
	}
	a.refresh()
}

func (a *App) invertSort() {
	switch a.view {
	case viewTasks:
		a.tasks.invert()
	case viewAsyncOps:
		a.asyncOps.invert()
	default:
		return
	}
	a.refresh()
}

// openDetail shows the selected task, or the task awaiting the selected
// async op.
func (a *App) openDetail() {
	var id state.Id[state.Task]
	switch a.view {
	case viewTasks:
		ref, ok := a.tasks.selectedRef()
		if !ok {
			return
		}
		id = ref.Id()
	case viewAsyncOps:
		ref, ok := a.asyncOps.selectedRef()
		if !ok {
			return
		}
		op, ok := ref.Get()
		if !ok {
			return
		}
		taskID, ok := op.TaskID()
		if !ok {
			a.setMessage(fmt.Sprintf("async op %s is not awaited by a task", op.ID()))
			return
		}
		id = taskID
	default:
		return
	}

	a.session.State().WatchDetails(id)
	a.detail.Open(id)
	a.detail.SetSize(a.width, a.bodyHeight())
	if !a.detail.Refresh(a.session.State(), a.now) {
		a.closeDetail()
		a.setMessage(fmt.Sprintf("task %s is no longer tracked", id))
	}
}

// closeDetail hides the task detail and stops keeping its details.
func (a *App) closeDetail() {
	a.detail.Close()
	a.session.State().UnwatchDetails()
}

func (a *App) setMessage(msg string) {
	a.message = msg
	a.isError = false
}

func (a *App) setError(msg string) {
	a.message = msg
	a.isError = true
	a.logger.Warn("console error", zap.String("message", msg))
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.renderHeader())
	b.WriteString("\n")

	height := a.bodyHeight()
	switch {
	case a.detail.IsOpen():
		b.WriteString(a.detail.View())
		b.WriteString("\n")
	case a.view == viewTasks:
		b.WriteString(a.renderTasks(height))
	case a.view == viewAsyncOps:
		b.WriteString(a.asyncOps.render(a.width, height, asyncOpRow(a.now)))
	case a.view == viewResources:
		b.WriteString(a.resources.render(a.width, height, resourceRow(a.now)))
	case a.view == viewWarnings:
		b.WriteString(renderWarnings(a.session.State().Tasks().Linters(), true))
	}

	if bar := a.filter.View(); bar != "" {
		b.WriteString(bar)
		b.WriteString("\n")
	}
	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if a.isError {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(style.Render(a.message))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(a.width).Render(a.renderStatus()))
	b.WriteString("\n")
	b.WriteString(a.help.View(keys))

	return b.String()
}

func (a *App) renderHeader() string {
	header := titleStyle.Render("lookout")
	if a.opts.Connected != nil {
		if a.opts.Connected() {
			header += connectedStyle.Render("● connected")
		} else {
			header += disconnectedStyle.Render("○ reconnecting")
		}
	}
	if a.opts.Target != "" {
		header += "  " + helpStyle.Render(a.opts.Target)
	}

	tabs := make([]string, len(viewNames))
	for i, name := range viewNames {
		if a.detail.IsOpen() || view(i) != a.view {
			tabs[i] = tabStyle.Render(name)
		} else {
			tabs[i] = activeTabStyle.Render(name)
		}
	}
	return header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderTasks(height int) string {
	warns := renderWarnings(a.session.State().Tasks().Linters(), false)
	height -= strings.Count(warns, "\n")
	return warns + a.tasks.render(a.width, height, taskRow(a.now))
}

func (a *App) renderStatus() string {
	st := a.session.State()
	dropped := st.DroppedEvents()
	status := fmt.Sprintf("tasks: %d | async ops: %d | resources: %d | updates: %d",
		st.Tasks().Len(), st.AsyncOps().Len(), st.Resources().Len(), a.session.Stats().Updates)
	if total := dropped.Tasks + dropped.Resources + dropped.AsyncOps; total > 0 {
		status += fmt.Sprintf(" | dropped events: %d", total)
	}
	if a.feedDone {
		status += " | feed ended"
	}
	return status
}

// bodyHeight is what is left after the header, status bar and help line.
func (a *App) bodyHeight() int {
	return max(a.height-6, 3)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
