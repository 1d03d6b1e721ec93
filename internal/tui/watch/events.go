package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bootrelay/internal/events"
)

const maxStreamLines = 8

func renderNoticeStream(log []events.Notice, theme Theme, width int) string {
	innerWidth := width - 4

	if len(log) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("NOTICES"),
			theme.Dim.Render("  Waiting for notices..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, maxStreamLines)
	for i, n := range log {
		if i >= maxStreamLines {
			break
		}
		lines = append(lines, formatNotice(n, theme))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("NOTICES"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatNotice(n events.Notice, theme Theme) string {
	ts := theme.Dim.Render(n.At.Local().Format("15:04:05"))

	var style lipgloss.Style
	switch n.Type {
	case events.TypeWorkerReady, events.TypeQueueDrained:
		style = theme.StatusOK
	case events.TypeWorkerFailed, events.TypeWorkerExited:
		style = theme.StatusFailed
	case events.TypeWorkerStarting:
		style = theme.StatusRunning
	case events.TypeEventDispatched:
		style = theme.outcomeStyle(noticeField(n, "outcome"))
	case events.TypeHandlesSaved:
		style = theme.Highlight
	default:
		style = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-18s", n.Type)), describeNotice(n))
}

// noticeData decodes a notice payload, keeping numbers exact.
func noticeData(n events.Notice) map[string]any {
	data := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(n.Data))
	dec.UseNumber()
	_ = dec.Decode(&data)
	return data
}

func noticeField(n events.Notice, key string) string {
	data := noticeData(n)
	if v, ok := data[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// describeNotice picks the fields worth a glance for each notice type.
func describeNotice(n events.Notice) string {
	data := noticeData(n)

	var parts []string
	for _, key := range []string{"event_kind", "worker", "outcome", "error", "dispatched", "depth"} {
		v, ok := data[key]
		if !ok || v == "" {
			continue
		}
		switch key {
		case "dispatched":
			parts = append(parts, fmt.Sprintf("%v replayed", v))
		case "depth":
			parts = append(parts, fmt.Sprintf("depth=%v", v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if n.Type == events.TypeHandlesSaved {
		parts = append(parts, fmt.Sprintf("dispatcher=%v callback=%v", data["dispatcher_handle"], data["callback_handle"]))
	}

	if len(parts) == 0 {
		raw := string(n.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
