package watch

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bootrelay/internal/events"
)

const maxDispatchRows = 50

// DispatchRow is one event as seen through queued/dispatched notices.
type DispatchRow struct {
	EventID        string
	Kind           string
	Status         string
	CallbackHandle int64
	Message        string
	At             time.Time
}

// dispatchLog keeps rows newest first, keyed by event ID.
type dispatchLog struct {
	rows []*DispatchRow
	byID map[string]*DispatchRow
}

func newDispatchLog() *dispatchLog {
	return &dispatchLog{byID: make(map[string]*DispatchRow)}
}

// apply folds an event.queued or event.dispatched notice into the log and
// reports whether anything changed.
func (l *dispatchLog) apply(n events.Notice) bool {
	if n.Type != events.TypeEventQueued && n.Type != events.TypeEventDispatched {
		return false
	}
	var data struct {
		EventID        string `json:"event_id"`
		EventKind      string `json:"event_kind"`
		CallbackHandle int64  `json:"callback_handle"`
		Outcome        string `json:"outcome"`
		Message        string `json:"message"`
	}
	if err := json.Unmarshal(n.Data, &data); err != nil || data.EventID == "" {
		return false
	}

	row, ok := l.byID[data.EventID]
	if !ok {
		row = &DispatchRow{EventID: data.EventID, Kind: data.EventKind}
		l.byID[data.EventID] = row
		l.rows = append([]*DispatchRow{row}, l.rows...)
		if len(l.rows) > maxDispatchRows {
			for _, old := range l.rows[maxDispatchRows:] {
				delete(l.byID, old.EventID)
			}
			l.rows = l.rows[:maxDispatchRows]
		}
	}
	row.At = n.At
	if n.Type == events.TypeEventQueued {
		row.Status = "queued"
		return true
	}
	row.Status = data.Outcome
	row.CallbackHandle = data.CallbackHandle
	row.Message = data.Message
	return true
}

func newDispatchTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Event", Width: 8},
			{Title: "Kind", Width: 22},
			{Title: "Status", Width: 16},
			{Title: "Callback", Width: 10},
			{Title: "Message", Width: 30},
		}),
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
	return t
}

func (l *dispatchLog) tableRows() []table.Row {
	rows := make([]table.Row, 0, len(l.rows))
	for _, r := range l.rows {
		id := r.EventID
		if len(id) > 8 {
			id = id[:8]
		}
		cb := "-"
		if r.CallbackHandle != 0 {
			cb = strconv.FormatInt(r.CallbackHandle, 10)
		}
		rows = append(rows, table.Row{
			r.At.Local().Format("15:04:05"),
			id,
			r.Kind,
			r.Status,
			cb,
			r.Message,
		})
	}
	return rows
}

func renderDispatches(t table.Model, empty bool, theme Theme, width int) string {
	body := t.View()
	if empty {
		body = theme.Dim.Render("  No events yet")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("DISPATCHES"),
		body,
	))
}
