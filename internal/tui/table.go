package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/state"
)

type column struct {
	title string
	// width of zero takes whatever is left of the line.
	width int
}

// table is a scrollable, sortable list of entity refs. Refs whose entity
// was evicted are dropped by prune.
type table[T any] struct {
	columns  []column
	sortable int

	all  []state.Ref[T]
	view []state.Ref[T]

	selected   int
	offset     int
	column     int
	descending bool
}

func newTable[T any](columns []column, sortable int) *table[T] {
	return &table[T]{columns: columns, sortable: sortable}
}

func (t *table[T]) add(refs []state.Ref[T]) {
	t.all = append(t.all, refs...)
}

func (t *table[T]) prune() {
	t.all = slices.DeleteFunc(t.all, func(ref state.Ref[T]) bool {
		_, ok := ref.Get()
		return !ok
	})
}

// rebuild sorts every ref and keeps those matching keep, holding the
// selection on the same entity when it is still listed.
func (t *table[T]) rebuild(sort func([]state.Ref[T]), keep func(*T) bool) {
	prev, hadSelection := t.selectedRef()

	sort(t.all)
	t.view = t.view[:0]
	for _, ref := range t.all {
		item, ok := ref.Get()
		if !ok || (keep != nil && !keep(item)) {
			continue
		}
		t.view = append(t.view, ref)
	}

	if hadSelection {
		if idx := slices.IndexFunc(t.view, func(ref state.Ref[T]) bool {
			return ref.Id() == prev.Id()
		}); idx >= 0 {
			t.selected = idx
		}
	}
	t.clamp()
}

func (t *table[T]) selectedRef() (state.Ref[T], bool) {
	if t.selected < 0 || t.selected >= len(t.view) {
		return state.Ref[T]{}, false
	}
	return t.view[t.selected], true
}

func (t *table[T]) move(delta int) {
	t.selected += delta
	t.clamp()
}

func (t *table[T]) clamp() {
	t.selected = min(t.selected, len(t.view)-1)
	t.selected = max(t.selected, 0)
}

func (t *table[T]) shiftColumn(delta int) {
	if t.sortable == 0 {
		return
	}
	t.column = (t.column + delta + t.sortable) % t.sortable
}

func (t *table[T]) invert() { t.descending = !t.descending }

// window returns the visible row range, scrolling to keep the selection in
// view.
func (t *table[T]) window(rows int) (int, int) {
	if rows <= 0 {
		return 0, 0
	}
	if t.selected < t.offset {
		t.offset = t.selected
	}
	if t.selected >= t.offset+rows {
		t.offset = t.selected - rows + 1
	}
	t.offset = max(0, min(t.offset, len(t.view)-rows))
	return t.offset, min(len(t.view), t.offset+rows)
}

// render draws the header and visible rows. row returns the cells of one
// entity and the style to draw them in.
func (t *table[T]) render(width, height int, row func(*T) ([]string, lipgloss.Style)) string {
	var b strings.Builder

	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		title := col.title
		if i < t.sortable && i == t.column {
			if t.descending {
				title += "▼"
			} else {
				title += "▲"
			}
		}
		header[i] = title
	}
	b.WriteString(tableHeaderStyle.Render("  " + t.line(header, width)))
	b.WriteString("\n")

	if len(t.view) == 0 {
		b.WriteString(helpStyle.Render("  nothing to show yet"))
		b.WriteString("\n")
		return b.String()
	}

	start, end := t.window(height - 1)
	for i := start; i < end; i++ {
		item, ok := t.view[i].Get()
		if !ok {
			continue
		}
		cells, style := row(item)
		line := t.line(cells, width)
		if i == t.selected {
			b.WriteString(selectedStyle.Render("▶ " + line))
		} else {
			b.WriteString("  " + style.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (t *table[T]) line(cells []string, width int) string {
	var b strings.Builder
	used := 2
	for i, col := range t.columns {
		if i >= len(cells) {
			break
		}
		w := col.width
		if w == 0 {
			w = max(width-used, 10)
		}
		b.WriteString(fit(cells[i], w))
		if i < len(t.columns)-1 {
			b.WriteString(" ")
		}
		used += w + 1
	}
	return strings.TrimRight(b.String(), " ")
}

// fit pads or truncates s to exactly w runes.
func fit(s string, w int) string {
	runes := []rune(s)
	if len(runes) > w {
		if w <= 1 {
			return string(runes[:w])
		}
		return string(runes[:w-1]) + "…"
	}
	return s + strings.Repeat(" ", w-len(runes))
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
