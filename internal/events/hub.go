// Package events fans invocation lifecycle events out to live subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeInvocationStarted   = "invocation.started"
	TypeInvocationCompleted = "invocation.completed"

	defaultCapacity   = 256
	subscriberBacklog = 64
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub keeps the last N events for Last-Event-ID replay and pushes new ones
// to subscriber channels. Event IDs start at 1 and are contiguous, so event
// n lives in slot (n-1) % N.
type Hub struct {
	mu     sync.Mutex
	recent []Event
	lastID int64
	subs   map[*subscriber]struct{}

	dropped atomic.Int64
}

type subscriber struct {
	ch     chan Event
	closed bool
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish never blocks. A subscriber whose backlog is full misses the event
// and the miss is counted in Dropped.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.recent[h.slot(ev.ID)] = ev

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of new events and a cancel func that closes
// it. Cancel is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBacklog)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
// lastID 0 returns everything retained.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	oldest := h.lastID - int64(len(h.recent)) + 1
	if oldest < 1 {
		oldest = 1
	}
	if lastID+1 > oldest {
		oldest = lastID + 1
	}

	var out []Event
	for id := oldest; id <= h.lastID; id++ {
		out = append(out, h.recent[h.slot(id)])
	}
	return out
}

func (h *Hub) slot(id int64) int {
	return int((id - 1) % int64(len(h.recent)))
}
