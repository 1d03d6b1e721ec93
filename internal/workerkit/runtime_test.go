package workerkit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

// connect wires a Runtime to a core-side PipeConn and starts both loops.
func connect(t *testing.T, setup func(rt *Runtime)) (*worker.PipeConn, <-chan protocol.ControlMessage, <-chan error) {
	t.Helper()

	coreR, workerW := io.Pipe()
	workerR, coreW := io.Pipe()

	rt := New(workerR, workerW, log.Discard())
	setup(rt)

	conn := worker.NewPipeConn(coreR, coreW, func() error {
		_ = coreW.Close()
		return coreR.Close()
	}, log.Discard())

	controls := make(chan protocol.ControlMessage, 4)
	go func() {
		_ = conn.Serve(func(msg protocol.ControlMessage) protocol.Reply {
			controls <- msg
			return protocol.ReplyOK(true)
		})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- rt.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
		_ = workerW.Close()
	})
	return conn, controls, served
}

func call(t *testing.T, conn *worker.PipeConn, handle int64) protocol.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := conn.Call(ctx, handle, protocol.NewEvent("boot_completed", "test", map[string]string{"n": "1"}))
	require.NoError(t, err)
	return r
}

func TestRuntimeAnnouncesReadyFirst(t *testing.T) {
	_, controls, _ := connect(t, func(*Runtime) {})

	select {
	case msg := <-controls:
		assert.Equal(t, protocol.Ready{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime never announced ready")
	}
}

func TestRuntimeReplies(t *testing.T) {
	conn, _, _ := connect(t, func(rt *Runtime) {
		rt.Register(100, func(_ context.Context, ev protocol.Event) (any, error) {
			if ev.Attributes["n"] != "1" {
				return nil, errors.New("event not delivered")
			}
			return nil, nil
		})
		rt.Register(101, func(context.Context, protocol.Event) (any, error) {
			return map[string]int{"count": 3}, nil
		})
		rt.Register(102, func(context.Context, protocol.Event) (any, error) {
			return nil, errors.New("disk full")
		})
		rt.Register(103, func(context.Context, protocol.Event) (any, error) {
			return nil, ErrNotImplemented
		})
		rt.Register(104, func(context.Context, protocol.Event) (any, error) {
			panic("kaboom")
		})
	})

	tests := []struct {
		name    string
		handle  int64
		outcome protocol.Outcome
		checkFn func(t *testing.T, r protocol.Reply)
	}{
		{
			name:    "nil result acks true",
			handle:  100,
			outcome: protocol.OutcomeSuccess,
			checkFn: func(t *testing.T, r protocol.Reply) { assert.True(t, r.Ack()) },
		},
		{
			name:    "structured result",
			handle:  101,
			outcome: protocol.OutcomeSuccess,
			checkFn: func(t *testing.T, r protocol.Reply) { assert.JSONEq(t, `{"count":3}`, string(r.Result)) },
		},
		{
			name:    "callback error",
			handle:  102,
			outcome: protocol.OutcomeAppError,
			checkFn: func(t *testing.T, r protocol.Reply) { assert.Equal(t, "disk full", r.Message) },
		},
		{name: "explicit not implemented", handle: 103, outcome: protocol.OutcomeNotImplemented},
		{
			name:    "panic becomes error",
			handle:  104,
			outcome: protocol.OutcomeAppError,
			checkFn: func(t *testing.T, r protocol.Reply) { assert.Contains(t, r.Message, "kaboom") },
		},
		{name: "unknown handle", handle: 999, outcome: protocol.OutcomeNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := call(t, conn, tt.handle)
			assert.Equal(t, tt.outcome, r.Outcome)
			if tt.checkFn != nil {
				tt.checkFn(t, r)
			}
		})
	}
}

func TestRuntimeServeEndsOnEOF(t *testing.T) {
	conn, controls, served := connect(t, func(*Runtime) {})
	<-controls

	require.NoError(t, conn.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the core hung up")
	}
}

func TestRuntimeRejectsMalformedWorkCall(t *testing.T) {
	coreR, workerW := io.Pipe()
	workerR, coreW := io.Pipe()
	t.Cleanup(func() {
		_ = coreW.Close()
		_ = coreR.Close()
	})

	rt := New(workerR, workerW, log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rt.Serve(ctx) }()

	dec := protocol.NewDecoder(coreR)
	frames := make(chan *protocol.Envelope, 4)
	go func() {
		for {
			env, _, err := dec.Decode()
			if err != nil {
				return
			}
			frames <- env
		}
	}()

	go func() {
		_, _ = coreW.Write([]byte(`{"protocol":1,"kind":"call","channel":"work","id":7,"args":[]}` + "\n"))
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-frames:
			if env.Channel != protocol.ChannelWork {
				continue
			}
			assert.Equal(t, protocol.KindReply, env.Kind)
			assert.Equal(t, int64(7), env.ID)
			r := protocol.ReplyFromEnvelope(env)
			assert.Equal(t, protocol.OutcomeAppError, r.Outcome)
			assert.Contains(t, r.Message, "exactly one argument")
			return
		case <-deadline:
			t.Fatal("malformed work call was never answered")
		}
	}
}
