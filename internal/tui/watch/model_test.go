package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bootrelay/internal/events"
)

func notice(t *testing.T, id int64, typ string, data any) events.Notice {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Notice{ID: id, Type: typ, At: time.Now(), Data: b}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 4",
		"event: worker.ready",
		`data: {"worker":"echo"}`,
		"",
		"id: 5",
		"event: queue.drained",
		`data: {"dispatched":2}`,
		"",
	}, "\n")

	var got []events.Notice
	readSSE(strings.NewReader(stream), func(n events.Notice) { got = append(got, n) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, events.TypeWorkerReady, got[0].Type)
	assert.JSONEq(t, `{"worker":"echo"}`, string(got[0].Data))
	assert.Equal(t, events.TypeQueueDrained, got[1].Type)
}

func TestRelayStateFollowsWorkerNotices(t *testing.T) {
	var s RelayState

	s.applyNotice(notice(t, 1, events.TypeHandlesSaved, map[string]any{"dispatcher_handle": 1, "callback_handle": 100}))
	assert.Equal(t, int64(1), s.Dispatcher)
	assert.Equal(t, int64(100), s.Callback)

	s.applyNotice(notice(t, 2, events.TypeWorkerStarting, map[string]any{"worker": "echo", "boot_handle": 1}))
	assert.Equal(t, "starting", s.WorkerState)
	assert.Equal(t, "echo", s.Worker)

	s.applyNotice(notice(t, 3, events.TypeEventQueued, map[string]any{"event_id": "e1", "depth": 3}))
	assert.Equal(t, 3, s.QueueDepth)

	s.applyNotice(notice(t, 4, events.TypeWorkerReady, map[string]any{"worker": "echo"}))
	s.applyNotice(notice(t, 5, events.TypeQueueDrained, map[string]any{"dispatched": 3}))
	assert.Equal(t, "ready", s.WorkerState)
	assert.Zero(t, s.QueueDepth)

	s.applyNotice(notice(t, 6, events.TypeWorkerFailed, map[string]any{"error": "no entrypoint"}))
	assert.Equal(t, "no entrypoint", s.LastFailure)
}

func TestDispatchLogTracksEvents(t *testing.T) {
	l := newDispatchLog()

	assert.False(t, l.apply(notice(t, 1, events.TypeWorkerReady, nil)))
	assert.True(t, l.apply(notice(t, 2, events.TypeEventQueued, map[string]any{"event_id": "aaaaaaaa-1", "event_kind": "boot_completed"})))
	assert.True(t, l.apply(notice(t, 3, events.TypeEventDispatched, map[string]any{
		"event_id": "aaaaaaaa-1", "event_kind": "boot_completed", "callback_handle": 200, "outcome": "success",
	})))
	assert.True(t, l.apply(notice(t, 4, events.TypeEventDispatched, map[string]any{
		"event_id": "bbbbbbbb-2", "event_kind": "quickboot_poweron", "callback_handle": 200, "outcome": "error", "message": "boom",
	})))

	require.Len(t, l.rows, 2)
	assert.Equal(t, "bbbbbbbb-2", l.rows[0].EventID, "newest first")
	assert.Equal(t, "success", l.rows[1].Status)
	assert.Equal(t, int64(200), l.rows[1].CallbackHandle)

	rows := l.tableRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "bbbbbbbb", rows[0][1])
	assert.Equal(t, "boom", rows[0][5])
}

func TestDispatchLogIsBounded(t *testing.T) {
	l := newDispatchLog()
	for i := range maxDispatchRows + 10 {
		l.apply(notice(t, int64(i+1), events.TypeEventQueued, map[string]any{"event_id": fmt.Sprintf("ev-%d", i)}))
	}
	assert.Len(t, l.rows, maxDispatchRows)
	assert.Len(t, l.byID, maxDispatchRows)
}

func TestModelUpdate(t *testing.T) {
	m := New("http://127.0.0.1:0", "key")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := next.(Model)
	assert.Equal(t, 120, model.width)

	next, cmd := model.Update(noticeMsg(notice(t, 7, events.TypeEventDispatched, map[string]any{
		"event_id": "e1", "event_kind": "boot_completed", "outcome": "success",
	})))
	model = next.(Model)
	assert.NotNil(t, cmd, "keeps receiving notices")
	assert.Equal(t, int64(7), model.lastID)
	assert.True(t, model.state.Connected)
	assert.Len(t, model.notices, 1)
	assert.Contains(t, model.View(), "BOOTRELAY WATCH")

	next, _ = model.Update(sseDisconnectedMsg{})
	model = next.(Model)
	assert.False(t, model.state.Connected)
	assert.NotEmpty(t, model.lastError)

	var h healthMsg
	require.NoError(t, json.Unmarshal([]byte(`{"status":"ok","uptime_seconds":61,"worker_state":"ready","queue_depth":0,"worker":{"worker":"echo","boot_handle":1,"mailbox":2}}`), &h))
	next, _ = model.Update(h)
	model = next.(Model)
	assert.True(t, model.state.Connected)
	assert.Equal(t, "ready", model.state.WorkerState)
	assert.Equal(t, 2, model.state.Mailbox)

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestActivityDecay(t *testing.T) {
	var a Activity
	now := time.Now()
	a.OnNotice(now)
	assert.Equal(t, 5, a.dots)

	a.Decay(now.Add(3 * time.Second))
	assert.Equal(t, 4, a.dots)

	a.Decay(now.Add(11 * time.Second))
	assert.Zero(t, a.dots)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", formatDuration(185*time.Second))
	assert.Equal(t, "2h 1m", formatDuration(2*time.Hour+time.Minute))
}
