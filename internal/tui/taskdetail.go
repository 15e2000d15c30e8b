package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fentz26/lookout/internal/state"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// TaskDetailModel shows one task in a scrollable viewport.
type TaskDetailModel struct {
	taskID   state.Id[state.Task]
	open     bool
	viewport viewport.Model
}

// NewTaskDetailModel creates a closed task detail view.
func NewTaskDetailModel() *TaskDetailModel {
	return &TaskDetailModel{viewport: viewport.New(80, 20)}
}

// Open shows the task with the given id.
func (m *TaskDetailModel) Open(id state.Id[state.Task]) {
	m.taskID = id
	m.open = true
	m.viewport.GotoTop()
}

// Close hides the view.
func (m *TaskDetailModel) Close() { m.open = false }

// IsOpen reports whether a task is shown.
func (m *TaskDetailModel) IsOpen() bool { return m.open }

// TaskID returns the shown task.
func (m *TaskDetailModel) TaskID() state.Id[state.Task] { return m.taskID }

// SetSize sets the dimensions.
func (m *TaskDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
}

// Refresh re-renders the task as of now. It returns false when the task is
// gone.
func (m *TaskDetailModel) Refresh(st *state.State, now time.Time) bool {
	task, ok := st.Tasks().Get(m.taskID)
	if !ok {
		return false
	}
	details, ok := st.Details()
	if ok && details.TaskID() != m.taskID {
		details = nil
	}
	m.viewport.SetContent(renderTaskDetail(task, details, now))
	return true
}

// Update scrolls the viewport.
func (m *TaskDetailModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

// View renders the task detail.
func (m *TaskDetailModel) View() string {
	return m.viewport.View()
}

func renderTaskDetail(t *state.Task, details *state.Details, now time.Time) string {
	var b strings.Builder

	title := fmt.Sprintf("Task %s", t.ID())
	if name := t.Name(); name != "" {
		title += " · " + name
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	st := t.State()
	b.WriteString(renderField("State", st.Icon()+" "+st.String()))
	if id, ok := t.TaskID(); ok {
		b.WriteString(renderField("Runtime ID", fmt.Sprintf("%d", id)))
	}
	b.WriteString(renderField("Span ID", fmt.Sprintf("%d", t.SpanID())))
	b.WriteString(renderField("Kind", t.Kind()))
	b.WriteString(renderField("Target", t.Target()))
	b.WriteString(renderField("Location", t.Location()))
	b.WriteString(renderField("Created", t.CreatedAt().Format(time.RFC3339Nano)))

	b.WriteString(sectionStyle.Render("Time"))
	b.WriteString("\n")
	b.WriteString(renderField("Total", formatDuration(t.Total(now))))
	b.WriteString(renderField("Busy", formatDuration(t.Busy(now))))
	b.WriteString(renderField("Scheduled", formatDuration(t.Scheduled(now))))
	b.WriteString(renderField("Idle", formatDuration(t.Idle(now))))
	b.WriteString(renderField("Polls", humanize.Comma(int64(t.TotalPolls()))))

	b.WriteString(sectionStyle.Render("Wakers"))
	b.WriteString("\n")
	b.WriteString(renderField("Current wakers", fmt.Sprintf("%d (clones: %d, drops: %d)",
		t.WakerCount(), t.WakerClones(), t.WakerDrops())))
	b.WriteString(renderField("Woken", fmt.Sprintf("%s times, %d%% by itself",
		humanize.Comma(int64(t.Wakes())), t.SelfWakePercent())))
	if last, ok := t.LastWake(); ok {
		b.WriteString(renderField("Last woken", formatDuration(now.Sub(last))+" ago"))
	}

	var poll, sched *state.Histogram
	if details != nil {
		poll, _ = details.PollTimes()
		sched, _ = details.ScheduledTimes()
	}
	b.WriteString(renderDurations("Poll Times", poll))
	b.WriteString(renderDurations("Scheduled Times", sched))

	if size, ok := t.SizeBytes(); ok {
		b.WriteString(sectionStyle.Render("Size"))
		b.WriteString("\n")
		b.WriteString(renderField("Future", humanize.Bytes(size)))
		if orig, ok := t.OriginalSizeBytes(); ok && orig != size {
			b.WriteString(renderField("Before boxing", humanize.Bytes(orig)))
		}
	}

	if fields := t.FormattedFields(); len(fields) > 0 {
		b.WriteString(sectionStyle.Render("Fields"))
		b.WriteString("\n")
		for _, f := range fields {
			b.WriteString(fmt.Sprintf("  • %s\n", f))
		}
	}

	if held := t.Warnings(); len(held) > 0 {
		b.WriteString(sectionStyle.Render("Warnings"))
		b.WriteString("\n")
		warn := lipgloss.NewStyle().Foreground(warningColor)
		for _, l := range held {
			b.WriteString(warn.Render("  ⚠ " + l.Format(t, now)))
			b.WriteString("\n")
		}
	}

	return b.String()
}

var percentiles = []int{10, 25, 50, 75, 90, 95, 99}

const sparkWidth = 40

func renderDurations(title string, h *state.Histogram) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(title))
	b.WriteString("\n")
	if h == nil || h.Count() == 0 {
		b.WriteString("  " + helpStyle.Render("waiting for samples") + "\n")
		return b.String()
	}

	for _, p := range percentiles {
		b.WriteString(renderField(fmt.Sprintf("p%d", p), formatDuration(h.Percentile(float64(p)))))
	}
	b.WriteString(fmt.Sprintf("  %s  max %s\n", sparkline(h.Bins(sparkWidth)), formatDuration(h.Max())))
	if n, highest := h.HighOutliers(); n > 0 {
		b.WriteString(renderField("Outliers", fmt.Sprintf("%d, highest %s", n, formatDuration(highest))))
	}
	return b.String()
}

var sparkBlocks = []rune(" ▁▂▃▄▅▆▇█")

// sparkline draws one block per bin, scaled to the fullest bin. Non-empty
// bins are never drawn blank.
func sparkline(bins []int64) string {
	var peak int64
	for _, n := range bins {
		peak = max(peak, n)
	}
	if peak == 0 {
		return ""
	}
	top := int64(len(sparkBlocks) - 1)
	out := make([]rune, len(bins))
	for i, n := range bins {
		out[i] = sparkBlocks[(n*top+peak-1)/peak]
	}
	return string(out)
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}
