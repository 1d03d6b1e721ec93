package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/protocol"
)

const waitTimeout = 2 * time.Second

// fakeWorker is the far end of a PipeConn, driven directly by tests.
type fakeWorker struct {
	t   *testing.T
	enc *protocol.Encoder
	dec *protocol.Decoder
	in  io.Closer
	out io.Closer

	nextID   atomic.Int64
	calls    chan *protocol.Envelope
	controls chan *protocol.Envelope

	mu      sync.Mutex
	respond func(env *protocol.Envelope) (protocol.Reply, bool)
}

// newPipePair connects a PipeConn to a fakeWorker over in-memory pipes.
func newPipePair(t *testing.T) (*PipeConn, *fakeWorker) {
	t.Helper()

	coreR, workerW := io.Pipe()
	workerR, coreW := io.Pipe()

	conn := NewPipeConn(coreR, coreW, func() error {
		_ = coreW.Close()
		return coreR.Close()
	}, log.Discard())

	fw := &fakeWorker{
		t:        t,
		enc:      protocol.NewEncoder(workerW),
		dec:      protocol.NewDecoder(workerR),
		in:       workerR,
		out:      workerW,
		calls:    make(chan *protocol.Envelope, 64),
		controls: make(chan *protocol.Envelope, 8),
	}
	go fw.loop()
	t.Cleanup(fw.hangUp)
	return conn, fw
}

func (fw *fakeWorker) loop() {
	for {
		env, _, err := fw.dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				continue
			}
			return
		}
		switch {
		case env.Kind == protocol.KindCall && env.Channel == protocol.ChannelWork:
			fw.calls <- env
			fw.mu.Lock()
			respond := fw.respond
			fw.mu.Unlock()
			reply, send := protocol.ReplyOK(true), true
			if respond != nil {
				reply, send = respond(env)
			}
			if send {
				_ = fw.enc.Encode(reply.Envelope(protocol.ChannelWork, env.ID))
			}
		case env.Kind == protocol.KindReply && env.Channel == protocol.ChannelControl:
			fw.controls <- env
		}
	}
}

// onCall replaces the reply policy. Returning false sends no reply.
func (fw *fakeWorker) onCall(fn func(env *protocol.Envelope) (protocol.Reply, bool)) {
	fw.mu.Lock()
	fw.respond = fn
	fw.mu.Unlock()
}

// control sends a control call and returns the core's reply.
func (fw *fakeWorker) control(method string) *protocol.Envelope {
	fw.t.Helper()
	id := fw.nextID.Add(1)
	require.NoError(fw.t, fw.enc.Encode(protocol.NewControlCall(id, method)))
	select {
	case env := <-fw.controls:
		require.Equal(fw.t, id, env.ID)
		return env
	case <-time.After(waitTimeout):
		fw.t.Fatalf("no reply to control call %q", method)
		return nil
	}
}

func (fw *fakeWorker) ready() {
	fw.t.Helper()
	env := fw.control(protocol.MethodReady)
	require.True(fw.t, protocol.ReplyFromEnvelope(env).Ack(), "ready must be acknowledged")
}

func (fw *fakeWorker) nextCall() *protocol.Envelope {
	fw.t.Helper()
	select {
	case env := <-fw.calls:
		return env
	case <-time.After(waitTimeout):
		fw.t.Fatal("worker received no work call")
		return nil
	}
}

// hangUp closes the worker's pipes, as a crashed worker would.
func (fw *fakeWorker) hangUp() {
	_ = fw.out.Close()
	_ = fw.in.Close()
}

// singleLauncher hands out one prepared conn and counts launches.
type singleLauncher struct {
	conn     Conn
	err      error
	launches atomic.Int32
}

func (l *singleLauncher) Launch(context.Context, entrypoint.Entry) (Conn, error) {
	l.launches.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.conn, nil
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingJournal) snapshot() []journal.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]journal.Entry(nil), r.entries...)
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	r, err := Await(ctx, ch)
	if errors.Is(err, context.DeadlineExceeded) && r.Event.ID == "" {
		t.Fatal("dispatch result never resolved")
	}
	return r
}
