package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/diagwire/internal/logentry"
)

var (
	textMutedColor    = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#696969"}
	textBodyColor     = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	borderColor       = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}
	statusOKColor     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	statusWarnColor   = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	statusErrorColor  = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	statusInfoColor   = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}
	statusDebugColor  = lipgloss.AdaptiveColor{Light: "#9CA0B0", Dark: "#6C7086"}
	criticalBgColor   = lipgloss.AdaptiveColor{Light: "#922B21", Dark: "#922B21"}
	categoryTextColor = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#94E2D5"}
)

type styles struct {
	muted    lipgloss.Style
	body     lipgloss.Style
	heading  lipgloss.Style
	key      lipgloss.Style
	border   lipgloss.Style
	title    lipgloss.Style
	ok       lipgloss.Style
	warning  lipgloss.Style
	error    lipgloss.Style
	info     lipgloss.Style
	category lipgloss.Style
	added    lipgloss.Style
	deleted  lipgloss.Style
	levels   map[logentry.Level]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	s := styles{
		muted:    r.NewStyle().Foreground(textMutedColor),
		body:     r.NewStyle().Foreground(textBodyColor),
		heading:  r.NewStyle().Bold(true),
		key:      r.NewStyle().Foreground(textMutedColor),
		border:   r.NewStyle().Foreground(borderColor),
		title:    r.NewStyle().Bold(true).Foreground(borderColor),
		ok:       r.NewStyle().Foreground(statusOKColor),
		warning:  r.NewStyle().Bold(true).Foreground(statusWarnColor),
		error:    r.NewStyle().Bold(true).Foreground(statusErrorColor),
		info:     r.NewStyle().Foreground(statusInfoColor),
		category: r.NewStyle().Foreground(categoryTextColor),
		added:    r.NewStyle().Foreground(statusOKColor).Bold(true),
		deleted:  r.NewStyle().Foreground(statusErrorColor).Strikethrough(true),
	}
	s.levels = map[logentry.Level]lipgloss.Style{
		logentry.LevelDebug:    r.NewStyle().Foreground(statusDebugColor),
		logentry.LevelInfo:     r.NewStyle().Foreground(statusInfoColor),
		logentry.LevelWarning:  r.NewStyle().Bold(true).Foreground(statusWarnColor),
		logentry.LevelError:    r.NewStyle().Bold(true).Foreground(statusErrorColor),
		logentry.LevelCritical: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(criticalBgColor),
	}
	return s
}

func (s styles) level(l logentry.Level) lipgloss.Style {
	if st, ok := s.levels[l]; ok {
		return st
	}
	return s.body
}

// statusStyle picks a color for a free-form status string.
func (s styles) statusStyle(status string) lipgloss.Style {
	switch {
	case isFailureStatus(status):
		return s.error
	case status == "":
		return s.muted
	default:
		return s.ok
	}
}
