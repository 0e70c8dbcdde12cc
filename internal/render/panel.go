package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

const (
	borderTopLeft     = "╭"
	borderTopRight    = "╮"
	borderBottomLeft  = "╰"
	borderBottomRight = "╯"
	borderHorizontal  = "─"
	borderVertical    = "│"
)

// Panel renders body inside a rounded border with title inlined in the top
// edge: ╭─ Title ────╮. Producers ship the result as a RenderedPanel.
func (r *Renderer) Panel(title, body string) string {
	innerWidth := max(r.opts.Width-2, 1)
	borderStyle := r.styles.border
	titleStyle := r.styles.title

	var top string
	if title == "" {
		top = borderStyle.Render(borderTopLeft + strings.Repeat(borderHorizontal, innerWidth) + borderTopRight)
	} else {
		title = StripANSI(title)
		if w := lipgloss.Width(title); w > innerWidth-4 {
			title = truncate(title, innerWidth-4)
		}
		dashesAfter := max(innerWidth-lipgloss.Width(title)-3, 0)
		top = borderStyle.Render(borderTopLeft+borderHorizontal+" ") +
			titleStyle.Render(title) +
			borderStyle.Render(" "+strings.Repeat(borderHorizontal, dashesAfter)+borderTopRight)
	}

	// One column of padding on each side inside the border.
	textWidth := max(innerWidth-2, 1)
	var rows []string
	for _, line := range strings.Split(wordwrap.String(body, textWidth), "\n") {
		if lipgloss.Width(line) > textWidth {
			line = truncate(line, textWidth)
		}
		pad := strings.Repeat(" ", max(textWidth-lipgloss.Width(line), 0))
		rows = append(rows, borderStyle.Render(borderVertical)+" "+line+pad+" "+borderStyle.Render(borderVertical))
	}

	bottom := borderStyle.Render(borderBottomLeft + strings.Repeat(borderHorizontal, innerWidth) + borderBottomRight)
	return top + "\n" + strings.Join(rows, "\n") + "\n" + bottom
}

// truncate shortens s to maxWidth cells, ending with an ellipsis.
func truncate(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	var out strings.Builder
	for _, r := range s {
		if lipgloss.Width(out.String()+string(r)) > maxWidth-1 {
			break
		}
		out.WriteRune(r)
	}
	return out.String() + "…"
}
