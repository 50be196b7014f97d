package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/trialmatch/internal/events"
	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/history"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Environment   string       `json:"environment"`
	Workers       *guard.Stats `json:"workers"`
}

type historyMsg []history.Entry

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client reaches a running trialmatch API.
type Client struct {
	BaseURL string
	APIKey  string
}

func (c Client) get(ctx context.Context, hc *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return resp, nil
}

func (c Client) getJSON(path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.get(ctx, http.DefaultClient, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

// fetchHealth queries /healthz.
func (c Client) fetchHealth() tea.Msg {
	var h healthMsg
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchHistory loads the most recent finished invocations.
func (c Client) fetchHistory(limit int) tea.Cmd {
	return func() tea.Msg {
		var entries []history.Entry
		if err := c.getJSON("/api/invocations?limit="+strconv.Itoa(limit), &entries); err != nil {
			return errMsg(err)
		}
		return historyMsg(entries)
	}
}

// subscribe streams /events into ch, resuming after lastID. It returns
// sseDisconnectedMsg when the stream ends.
func (c Client) subscribe(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		_ = readSSE(resp.Body, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// readSSE parses an event stream, calling emit once per dispatched event.
// Comment lines (keep-alives) are ignored.
func readSSE(r io.Reader, emit func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var current events.Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				current.At = time.Now()
				current.Data = json.RawMessage(strings.Join(data, "\n"))
				emit(current)
			}
			current, data = events.Event{}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = append(data, line[6:])
		}
	}
	return scanner.Err()
}
