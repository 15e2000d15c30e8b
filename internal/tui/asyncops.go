package tui

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/state"
)

var asyncOpColumns = []column{
	{title: "ID", width: 6},
	{title: "Task", width: 6},
	{title: "Source", width: 24},
	{title: "Total", width: 9},
	{title: "Busy", width: 9},
	{title: "Idle", width: 9},
	{title: "Polls", width: 7},
	{title: "Parent", width: 7},
	{title: "Attributes", width: 0},
}

func newAsyncOpTable() *table[state.AsyncOp] {
	return newTable[state.AsyncOp](asyncOpColumns, state.AsyncOpByPolls.Column()+1)
}

func asyncOpRow(now time.Time) func(*state.AsyncOp) ([]string, lipgloss.Style) {
	return func(op *state.AsyncOp) ([]string, lipgloss.Style) {
		cells := []string{
			op.ID().String(),
			op.TaskIDString(),
			op.Source(),
			formatDuration(op.Total(now)),
			formatDuration(op.Busy(now)),
			formatDuration(op.Idle(now)),
			strconv.FormatUint(op.TotalPolls(), 10),
			op.ParentID(),
			strings.Join(op.FormattedAttributes(), ", "),
		}
		style := lipgloss.NewStyle()
		if op.Dropped() {
			style = style.Foreground(mutedColor)
		}
		return cells, style
	}
}
