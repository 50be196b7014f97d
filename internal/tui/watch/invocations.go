package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/trialmatch/internal/events"
	"github.com/mattjoyce/trialmatch/internal/history"
)

// InvocationState tracks one invocation seen live or loaded from history.
type InvocationState struct {
	CorrelationID string
	Subject       string
	State         string
	Kind          string
	Started       time.Time
	Duration      time.Duration
}

// Done reports whether the invocation has finished.
func (s *InvocationState) Done() bool {
	return s.State != "" && s.State != "running"
}

// invocationBook keeps the newest invocations, newest first.
type invocationBook struct {
	limit int
	byID  map[string]*InvocationState
	order []string
}

func newInvocationBook(limit int) *invocationBook {
	return &invocationBook{limit: limit, byID: make(map[string]*InvocationState)}
}

type invocationData struct {
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"`
	Kind          string `json:"kind"`
	DurationMS    int64  `json:"duration_ms"`
}

// apply folds a lifecycle event into the book. Unknown event types and
// events without a correlation id are ignored.
func (b *invocationBook) apply(e events.Event) {
	var d invocationData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.CorrelationID == "" {
		return
	}

	switch e.Type {
	case events.TypeInvocationStarted:
		inv := b.getOrAdd(d.CorrelationID)
		inv.State = "running"
		inv.Started = e.At
	case events.TypeInvocationCompleted:
		inv := b.getOrAdd(d.CorrelationID)
		inv.State = d.State
		inv.Kind = d.Kind
		inv.Duration = time.Duration(d.DurationMS) * time.Millisecond
	}
}

// seed adds finished invocations from history behind anything already seen.
func (b *invocationBook) seed(entries []history.Entry) {
	for _, e := range entries {
		if _, ok := b.byID[e.CorrelationID]; ok || len(b.order) >= b.limit {
			continue
		}
		b.byID[e.CorrelationID] = &InvocationState{
			CorrelationID: e.CorrelationID,
			Subject:       e.Subject,
			State:         e.State,
			Kind:          string(e.ErrorKind),
			Duration:      time.Duration(e.DurationMS) * time.Millisecond,
		}
		b.order = append(b.order, e.CorrelationID)
	}
}

func (b *invocationBook) getOrAdd(id string) *InvocationState {
	if inv, ok := b.byID[id]; ok {
		return inv
	}
	inv := &InvocationState{CorrelationID: id}
	b.byID[id] = inv
	b.order = append([]string{id}, b.order...)

	// Evict the oldest finished entries; running ones stay visible.
	for i := len(b.order) - 1; len(b.order) > b.limit && i >= 0; i-- {
		if old := b.byID[b.order[i]]; old.Done() {
			delete(b.byID, b.order[i])
			b.order = append(b.order[:i], b.order[i+1:]...)
		}
	}
	return inv
}

// running counts invocations still in flight.
func (b *invocationBook) running() int {
	n := 0
	for _, inv := range b.byID {
		if !inv.Done() {
			n++
		}
	}
	return n
}

func (b *invocationBook) list() []*InvocationState {
	out := make([]*InvocationState, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

func invocationColumns() []table.Column {
	return []table.Column{
		{Title: "ST", Width: 2},
		{Title: "ID", Width: 10},
		{Title: "Subject", Width: 16},
		{Title: "State", Width: 16},
		{Title: "Kind", Width: 16},
		{Title: "Duration", Width: 10},
	}
}

func (b *invocationBook) rows(now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(b.order))
	for _, inv := range b.list() {
		id := inv.CorrelationID
		if len(id) > 8 {
			id = id[:8]
		}

		icon, duration := "✅", formatDuration(inv.Duration)
		switch {
		case !inv.Done():
			icon = "🔄"
			if !inv.Started.IsZero() {
				duration = formatDuration(now.Sub(inv.Started))
			}
		case inv.State == "timed_out":
			icon = "⏱"
		case inv.State != "succeeded":
			icon = "❌"
		}

		rows = append(rows, table.Row{icon, id, inv.Subject, inv.State, inv.Kind, duration})
	}
	return rows
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
