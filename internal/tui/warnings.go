package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/lookout/internal/warnings"
)

// renderWarnings lists each lint with the number of tasks it currently
// warns about. With all unset, lints with no warnings are omitted.
func renderWarnings(linters []*warnings.Linter[warnings.Task], all bool) string {
	var b strings.Builder
	active := lipgloss.NewStyle().Foreground(warningColor)
	quiet := lipgloss.NewStyle().Foreground(mutedColor)

	for _, l := range linters {
		n := l.Count()
		switch {
		case n > 0:
			b.WriteString(active.Render(fmt.Sprintf("  ⚠ %d %s", n, l.Summary())))
		case all:
			b.WriteString(quiet.Render(fmt.Sprintf("    0 %s (%s)", l.Summary(), l.Name())))
		default:
			continue
		}
		b.WriteString("\n")
	}
	if all && len(linters) == 0 {
		b.WriteString(helpStyle.Render("  all lints are disabled"))
		b.WriteString("\n")
	}
	return b.String()
}
