package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/bootrelay/internal/events"
)

// RelayState is what the header shows: health polling plus worker notices.
type RelayState struct {
	Connected     bool
	Status        string
	UptimeSeconds int64
	WorkerState   string
	Worker        string
	BootHandle    int64
	QueueDepth    int
	Mailbox       int
	Dispatcher    int64
	Callback      int64
	LastFailure   string
	LastCheck     time.Time
}

func (s *RelayState) applyHealth(h healthMsg, now time.Time) {
	s.Connected = true
	s.Status = h.Status
	s.UptimeSeconds = h.UptimeSeconds
	s.WorkerState = h.WorkerState
	s.QueueDepth = h.QueueDepth
	s.Mailbox = h.Worker.Mailbox
	if h.Worker.Worker != "" {
		s.Worker = h.Worker.Worker
		s.BootHandle = h.Worker.BootHandle
	}
	s.LastCheck = now
}

// applyNotice keeps the header current between health polls.
func (s *RelayState) applyNotice(n events.Notice) {
	var data struct {
		Worker     string `json:"worker"`
		BootHandle int64  `json:"boot_handle"`
		Error      string `json:"error"`
		Depth      int    `json:"depth"`
		Dispatcher int64  `json:"dispatcher_handle"`
		Callback   int64  `json:"callback_handle"`
	}
	_ = json.Unmarshal(n.Data, &data)

	switch n.Type {
	case events.TypeHandlesSaved:
		s.Dispatcher = data.Dispatcher
		s.Callback = data.Callback
	case events.TypeWorkerStarting:
		s.WorkerState = "starting"
		s.Worker = data.Worker
		s.BootHandle = data.BootHandle
		s.LastFailure = ""
	case events.TypeWorkerReady:
		s.WorkerState = "ready"
	case events.TypeWorkerFailed:
		s.WorkerState = "not_started"
		s.LastFailure = data.Error
	case events.TypeWorkerExited:
		s.LastFailure = "worker exited"
	case events.TypeEventQueued:
		s.QueueDepth = data.Depth
	case events.TypeQueueDrained:
		s.QueueDepth = 0
	}
}

func renderHeader(state RelayState, activity Activity, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !state.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING " + spin)
	} else if state.Status != "ok" && state.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	title := " BOOTRELAY WATCH"
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	workerState := state.WorkerState
	if workerState == "" {
		workerState = "unknown"
	}
	worker := state.Worker
	if worker == "" {
		worker = "-"
	}

	statsLine := fmt.Sprintf(" %s  up %s  Queue: %d  Mailbox: %d",
		statusText,
		formatDuration(time.Duration(state.UptimeSeconds)*time.Second),
		state.QueueDepth,
		state.Mailbox,
	)
	workerLine := fmt.Sprintf(" Worker: %s %s  boot=%d  callback=%d",
		worker,
		theme.workerStyle(workerState).Render(workerState),
		state.BootHandle,
		state.Callback,
	)

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last notice: %s %s", lastEvent, activity.Render(theme))

	lines := []string{titleLine, statsLine, workerLine, activityLine}
	if state.LastFailure != "" {
		lines = append(lines, theme.StatusFailed.Render(" Last failure: "+state.LastFailure))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
