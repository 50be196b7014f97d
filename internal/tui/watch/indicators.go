package watch

import (
	"strings"
	"time"
)

const (
	spinnerDots  = 5
	spinnerDecay = 2 * time.Second
)

// Ticker alternates frames once per tick. A frozen ticker means the UI loop
// has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up on every event and loses one dot per spinnerDecay.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(now time.Time) {
	s.dots = spinnerDots
	s.lastEvent = now
}

func (s *Spinner) Decay(now time.Time) {
	if s.lastEvent.IsZero() {
		return
	}
	s.dots = spinnerDots - int(now.Sub(s.lastEvent)/spinnerDecay)
	if s.dots < 0 {
		s.dots = 0
	}
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range spinnerDots {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
