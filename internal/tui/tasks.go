package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/state"
)

var taskColumns = []column{
	{title: "ID", width: 6},
	{title: "Warn", width: 5},
	{title: "State", width: 6},
	{title: "Name", width: 18},
	{title: "Total", width: 9},
	{title: "Busy", width: 9},
	{title: "Sched", width: 9},
	{title: "Idle", width: 9},
	{title: "Polls", width: 7},
	{title: "Kind", width: 8},
	{title: "Target", width: 20},
	{title: "Location", width: 0},
}

func newTaskTable() *table[state.Task] {
	return newTable[state.Task](taskColumns, state.TaskByLocation.Column()+1)
}

func taskRow(now time.Time) func(*state.Task) ([]string, lipgloss.Style) {
	return func(t *state.Task) ([]string, lipgloss.Style) {
		warn := ""
		if n := len(t.Warnings()); n > 0 {
			warn = fmt.Sprintf("⚠ %d", n)
		}
		st := t.State()
		cells := []string{
			t.ID().String(),
			warn,
			st.Icon(),
			t.Name(),
			formatDuration(t.Total(now)),
			formatDuration(t.Busy(now)),
			formatDuration(t.Scheduled(now)),
			formatDuration(t.Idle(now)),
			strconv.FormatUint(t.TotalPolls(), 10),
			t.Kind(),
			t.Target(),
			t.Location(),
		}
		return cells, taskStyle(t, st)
	}
}

func taskStyle(t *state.Task, st state.TaskState) lipgloss.Style {
	switch {
	case len(t.Warnings()) > 0:
		return lipgloss.NewStyle().Foreground(warningColor)
	case st == state.TaskCompleted:
		return lipgloss.NewStyle().Foreground(mutedColor)
	case st == state.TaskRunning:
		return lipgloss.NewStyle().Foreground(successColor)
	default:
		return lipgloss.NewStyle()
	}
}
