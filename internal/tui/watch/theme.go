// Package watch implements `trialmatch system watch`, a live terminal view of
// worker invocations fed by a running API's /healthz, /api/invocations and
// /events endpoints.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every colour of the watch TUI in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusTimeout lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusTimeout: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8700")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// StateStyle picks the colour for an invocation state name.
func (t Theme) StateStyle(state string) lipgloss.Style {
	switch state {
	case "succeeded":
		return t.StatusOK
	case "timed_out":
		return t.StatusTimeout
	case "", "queued", "locating", "spawning", "running":
		return t.StatusRunning
	default:
		return t.StatusFailed
	}
}
