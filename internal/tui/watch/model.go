package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/trialmatch/internal/events"
)

const (
	maxInvocations   = 50
	maxEventLog      = 50
	historyLimit     = 20
	healthInterval   = 5 * time.Second
	reconnectBackoff = 3 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client Client

	width  int
	height int

	health      HealthState
	book        *invocationBook
	table       table.Model
	eventLog    []events.Event
	lastEventID int64

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents chan events.Event
	lastError string
	now       func() time.Time
}

// New creates a watch model for the API behind client.
func New(client Client) *Model {
	t := table.New(
		table.WithColumns(invocationColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		client:    client,
		book:      newInvocationBook(maxInvocations),
		table:     t,
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

// Run starts the TUI and blocks until the user quits.
func Run(client Client) error {
	_, err := tea.NewProgram(New(client), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchHistory(historyLimit),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(5, m.height/3))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(m.now())
		m.refreshRows()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.spinner.OnEvent(m.now())
		m.book.apply(e)
		m.refreshRows()

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case historyMsg:
		m.book.seed(msg)
		m.refreshRows()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Environment = msg.Environment
		m.health.Workers = msg.Workers
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the shared channel.
		return m, tea.Tick(reconnectBackoff, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

func (m *Model) refreshRows() {
	m.table.SetRows(m.book.rows(m.now()))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to trialmatch..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width, m.now())

	title := m.theme.Title.Render(fmt.Sprintf("INVOCATIONS (%d running)", m.book.running()))
	invocations := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, m.table.View()),
	)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, invocations, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll invocations"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
