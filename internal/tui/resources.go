package tui

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/state"
)

var resourceColumns = []column{
	{title: "ID", width: 6},
	{title: "Parent", width: 7},
	{title: "Kind", width: 10},
	{title: "Total", width: 9},
	{title: "Target", width: 18},
	{title: "Type", width: 16},
	{title: "Vis", width: 8},
	{title: "Location", width: 24},
	{title: "Attributes", width: 0},
}

// Resources are listed by id only.
func newResourceTable() *table[state.Resource] {
	return newTable[state.Resource](resourceColumns, 0)
}

func sortResources(refs []state.Ref[state.Resource]) {
	slices.SortStableFunc(refs, func(a, b state.Ref[state.Resource]) int {
		return cmp.Compare(a.Id(), b.Id())
	})
}

func resourceRow(now time.Time) func(*state.Resource) ([]string, lipgloss.Style) {
	return func(r *state.Resource) ([]string, lipgloss.Style) {
		cells := []string{
			r.ID().String(),
			r.ParentID(),
			r.Kind(),
			formatDuration(r.Total(now)),
			r.Target(),
			r.ConcreteType(),
			r.Visibility(),
			r.Location(),
			strings.Join(r.FormattedAttributes(), ", "),
		}
		style := lipgloss.NewStyle()
		if r.Dropped() {
			style = style.Foreground(mutedColor)
		}
		return cells, style
	}
}
