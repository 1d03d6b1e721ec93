package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bootrelay/internal/events"
)

const (
	maxNotices   = 50
	healthPeriod = 5 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	state      RelayState
	notices    []events.Notice
	lastID     int64
	dispatches *dispatchLog

	activity Activity
	spin     spinner.Model
	table    table.Model
	theme    Theme

	incoming  chan events.Notice
	lastError string
}

func New(apiURL, apiKey string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		apiURL:     apiURL,
		apiKey:     apiKey,
		dispatches: newDispatchLog(),
		spin:       sp,
		table:      newDispatchTable(),
		theme:      NewDefaultTheme(),
		incoming:   make(chan events.Notice, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.incoming),
		receiveNextNotice(m.incoming),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spin.Tick,
		tea.EnterAltScreen,
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

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case noticeMsg:
		m.applyNotice(events.Notice(msg), time.Now())
		return m, receiveNextNotice(m.incoming)

	case healthMsg:
		m.state.applyHealth(msg, time.Now())
		m.lastError = ""
		return m, tea.Tick(healthPeriod, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.state.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.incoming)

	case errMsg:
		m.state.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(healthPeriod, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// applyNotice folds one streamed notice into the view state.
func (m *Model) applyNotice(n events.Notice, now time.Time) {
	if n.ID > m.lastID {
		m.lastID = n.ID
	}
	m.notices = append([]events.Notice{n}, m.notices...)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[:maxNotices]
	}
	m.activity.OnNotice(now)
	m.state.applyNotice(n)
	m.state.Connected = true
	m.lastError = ""
	if m.dispatches.apply(n) {
		m.table.SetRows(m.dispatches.tableRows())
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to bootrelay..."
	}

	parts := []string{
		renderHeader(m.state, m.activity, m.spin.View(), m.theme, m.width),
		renderDispatches(m.table, len(m.dispatches.rows) == 0, m.theme, m.width),
		renderNoticeStream(m.notices, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll dispatches"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
