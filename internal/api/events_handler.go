package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/trialmatch/internal/events"
)

const keepAliveInterval = 15 * time.Second

// invocationStream writes invocation lifecycle events as text/event-stream
// frames. lastID suppresses anything the client has already seen.
type invocationStream struct {
	w      io.Writer
	lastID int64
}

func (st *invocationStream) send(ev events.Event) error {
	if ev.ID <= st.lastID {
		return nil
	}
	// Data is compact JSON, so one data line per frame.
	if _, err := fmt.Fprintf(st.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	st.lastID = ev.ID
	return nil
}

func (st *invocationStream) keepAlive() error {
	_, err := io.WriteString(st.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams invocation.started / invocation.completed events.
// Clients resume with the Last-Event-ID header, or ?since= for EventSource
// clients that cannot set headers on the first request.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	resume := r.Header.Get("Last-Event-ID")
	if resume == "" {
		resume = r.URL.Query().Get("since")
	}
	stream := &invocationStream{w: w, lastID: parseLastEventID(resume)}

	// Subscribe before replaying so nothing published in between is lost;
	// send drops the duplicates.
	live, cancel := s.deps.Events.Subscribe()
	defer cancel()

	for _, ev := range s.deps.Events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.keepAlive()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err, "last_id", stream.lastID)
			return
		}
		flusher.Flush()
	}
}

// parseLastEventID returns 0 for a missing or malformed id, replaying the
// whole buffer.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
