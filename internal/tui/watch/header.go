package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/trialmatch/internal/guard"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Environment   string
	Workers       *guard.Stats
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(spinner.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" TRIALMATCH WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  env: %s  %s",
		statusIcon, statusText,
		formatUptime(time.Duration(health.UptimeSeconds)*time.Second),
		health.Environment,
		formatWorkers(health.Workers),
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatWorkers(s *guard.Stats) string {
	if s == nil {
		return "Workers: ?"
	}
	return fmt.Sprintf("Workers: %d/%d running, %d waiting, peak %d", s.Running, s.Limit, s.Waiting, s.Peak)
}

func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return formatDuration(d)
}
