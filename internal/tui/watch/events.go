package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/trialmatch/internal/events"
)

const eventStreamLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventStreamLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var d invocationData
	_ = json.Unmarshal(e.Data, &d)

	style := theme.Dim
	switch e.Type {
	case events.TypeInvocationStarted:
		style = theme.StatusRunning
	case events.TypeInvocationCompleted:
		style = theme.StateStyle(d.State)
	}
	typeName := style.Render(fmt.Sprintf("%-22s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e, d))
}

func describeEvent(e events.Event, d invocationData) string {
	if d.CorrelationID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	id := d.CorrelationID
	if len(id) > 8 {
		id = id[:8]
	}
	parts := []string{fmt.Sprintf("[%s]", id)}
	if d.State != "" {
		parts = append(parts, d.State)
	}
	if d.Kind != "" {
		parts = append(parts, "("+d.Kind+")")
	}
	if e.Type == events.TypeInvocationCompleted {
		parts = append(parts, fmt.Sprintf("%dms", d.DurationMS))
	}
	return strings.Join(parts, " ")
}
