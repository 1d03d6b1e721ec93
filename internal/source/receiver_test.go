package source

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bootrelay/internal/dispatch"
	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/protocol"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	events []protocol.Event
	got    chan protocol.Event
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{got: make(chan protocol.Event, 16)}
}

func (s *recordingSubmitter) Submit(_ context.Context, ev protocol.Event) dispatch.Disposition {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- ev
	return dispatch.Queued
}

func (s *recordingSubmitter) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case ev := <-s.got:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event submitted")
		return protocol.Event{}
	}
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		action string
		kind   string
		ok     bool
	}{
		{"android.intent.action.BOOT_COMPLETED", KindBootCompleted, true},
		{"android.intent.action.LOCKED_BOOT_COMPLETED", KindLockedBootCompleted, true},
		{"android.intent.action.QUICKBOOT_POWERON", KindQuickbootPoweron, true},
		{"com.htc.intent.action.QUICKBOOT_POWERON", KindQuickbootPoweron, true},
		{"boot_completed", KindBootCompleted, true},
		{"BOOT_COMPLETED", KindBootCompleted, true},
		{" quickboot_poweron ", KindQuickbootPoweron, true},
		{"android.intent.action.boot_completed", "", false},
		{"android.intent.action.SCREEN_ON", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			kind, ok := KindFor(tt.action)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.ok, IsBootAction(tt.action))
		})
	}
}

func TestReceiveSubmitsBootAction(t *testing.T) {
	sub := newRecordingSubmitter()
	r := NewReceiver(sub, log.Discard(), WithName("test"))

	ev, disp, ok := r.Receive(context.Background(), "com.htc.intent.action.QUICKBOOT_POWERON")
	require.True(t, ok)
	assert.Equal(t, dispatch.Queued, disp)
	assert.Equal(t, KindQuickbootPoweron, ev.Kind)
	assert.Equal(t, "test", ev.Source)
	assert.Equal(t, "com.htc.intent.action.QUICKBOOT_POWERON", ev.Attributes["action"])
	assert.NotEmpty(t, ev.ID)
	assert.Len(t, sub.events, 1)
}

func TestReceiveIgnoresOtherActions(t *testing.T) {
	sub := newRecordingSubmitter()
	r := NewReceiver(sub, log.Discard())

	_, disp, ok := r.Receive(context.Background(), "android.intent.action.PACKAGE_ADDED")
	assert.False(t, ok)
	assert.Equal(t, dispatch.Rejected, disp)
	assert.Empty(t, sub.events)
}

func TestSignalAction(t *testing.T) {
	action, ok := SignalAction(syscall.SIGUSR1)
	assert.True(t, ok)
	assert.Equal(t, KindQuickbootPoweron, action)

	action, ok = SignalAction(syscall.SIGHUP)
	assert.True(t, ok)
	assert.Equal(t, KindBootCompleted, action)

	_, ok = SignalAction(syscall.SIGTERM)
	assert.False(t, ok)
}

func TestRunEmitsBootOnStartAndMapsSignals(t *testing.T) {
	sub := newRecordingSubmitter()
	r := NewReceiver(sub, log.Discard(), WithBootOnStart(true))

	signals := make(chan os.Signal, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, signals) }()

	assert.Equal(t, KindBootCompleted, sub.next(t).Kind)

	signals <- syscall.SIGTERM
	signals <- syscall.SIGUSR1
	assert.Equal(t, KindQuickbootPoweron, sub.next(t).Kind)

	signals <- syscall.SIGHUP
	assert.Equal(t, KindBootCompleted, sub.next(t).Kind)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Len(t, sub.events, 3)
}

func TestRunWithoutBootOnStartStopsWhenSignalsClose(t *testing.T) {
	sub := newRecordingSubmitter()
	r := NewReceiver(sub, log.Discard())

	signals := make(chan os.Signal)
	close(signals)
	require.NoError(t, r.Run(context.Background(), signals))
	assert.Empty(t, sub.events)
}
