package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/bootrelay/internal/protocol"
)

// Conn is a live connection to a started worker.
type Conn interface {
	// Call sends one work call carrying callbackHandle and waits for its reply.
	Call(ctx context.Context, callbackHandle int64, ev protocol.Event) (protocol.Reply, error)
	// Serve reads frames until the transport closes, answering control calls
	// with handler. It returns ErrTransportClosed (possibly wrapped) on exit.
	Serve(handler protocol.ControlHandler) error
	Close() error
}

type callResult struct {
	reply protocol.Reply
	err   error
}

// PipeConn speaks the JSON-lines protocol over a reader/writer pair.
type PipeConn struct {
	enc     *protocol.Encoder
	dec     *protocol.Decoder
	closeFn func() error
	logger  *slog.Logger

	nextID    atomic.Int64
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[int64]chan callResult
	closed  bool
	done    chan struct{}
}

// NewPipeConn reads frames from r and writes frames to w. closeFn, if set,
// releases the underlying pipes and is called once by Close.
func NewPipeConn(r io.Reader, w io.Writer, closeFn func() error, logger *slog.Logger) *PipeConn {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeConn{
		enc:     protocol.NewEncoder(w),
		dec:     protocol.NewDecoder(r),
		closeFn: closeFn,
		logger:  logger,
		pending: make(map[int64]chan callResult),
		done:    make(chan struct{}),
	}
}

func (c *PipeConn) Call(ctx context.Context, callbackHandle int64, ev protocol.Event) (protocol.Reply, error) {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Reply{}, ErrTransportClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enc.Encode(protocol.NewWorkCall(id, callbackHandle, ev)); err != nil {
		return protocol.Reply{}, fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		return protocol.Reply{}, fmt.Errorf("await reply for call %d: %w", id, ctx.Err())
	case <-c.done:
		select {
		case res := <-ch:
			return res.reply, res.err
		default:
			return protocol.Reply{}, ErrTransportClosed
		}
	}
}

func (c *PipeConn) Serve(handler protocol.ControlHandler) error {
	for {
		env, raw, err := c.dec.Decode()
		if err != nil && !errors.Is(err, protocol.ErrMalformed) {
			c.shutdown()
			if errors.Is(err, io.EOF) {
				return ErrTransportClosed
			}
			return fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		if err != nil {
			c.logger.Warn("malformed frame from worker", "error", err, "frame", truncate(string(raw), 512))
			c.rejectMalformed(env, err)
			continue
		}

		switch {
		case env.Channel == protocol.ChannelControl && env.Kind == protocol.KindCall:
			reply := c.answerControl(handler, env.Method)
			if err := c.enc.Encode(reply.Envelope(protocol.ChannelControl, env.ID)); err != nil {
				c.logger.Error("failed to send control reply", "id", env.ID, "error", err)
			}
		case env.Channel == protocol.ChannelWork && env.Kind == protocol.KindReply:
			c.resolve(env.ID, callResult{reply: protocol.ReplyFromEnvelope(env)})
		case env.Channel == protocol.ChannelWork && env.Kind == protocol.KindCall:
			// The work channel only flows core -> worker.
			_ = c.enc.Encode(protocol.ReplyNotImplemented().Envelope(protocol.ChannelWork, env.ID))
		default:
			c.logger.Debug("ignoring unexpected frame", "channel", env.Channel, "kind", env.Kind, "id", env.ID)
		}
	}
}

// answerControl runs handler and converts a panic into an error reply.
func (c *PipeConn) answerControl(handler protocol.ControlHandler, method string) (reply protocol.Reply) {
	msg := protocol.ParseControl(method)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("control handler panicked", "method", method, "panic", r)
			reply = protocol.ReplyError(fmt.Sprintf("bootrelay error: %v", r))
		}
	}()
	if handler == nil {
		return protocol.ReplyNotImplemented()
	}
	return handler(msg)
}

// rejectMalformed tells the sender about a frame we could not accept, when
// there is enough of it to address a reply.
func (c *PipeConn) rejectMalformed(env *protocol.Envelope, cause error) {
	if env == nil {
		return
	}
	switch {
	case env.Kind == protocol.KindCall && env.Channel == protocol.ChannelControl:
		reply := protocol.ReplyError(fmt.Sprintf("bootrelay error: %v", cause))
		_ = c.enc.Encode(reply.Envelope(protocol.ChannelControl, env.ID))
	case env.Kind == protocol.KindReply && env.Channel == protocol.ChannelWork:
		c.resolve(env.ID, callResult{err: cause})
	}
}

func (c *PipeConn) resolve(id int64, res callResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("reply for unknown call", "id", id)
		return
	}
	ch <- res
}

func (c *PipeConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.pending {
		ch <- callResult{err: ErrTransportClosed}
		delete(c.pending, id)
	}
}

// Done is closed once the transport is gone.
func (c *PipeConn) Done() <-chan struct{} {
	return c.done
}

func (c *PipeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.closeFn != nil {
			err = c.closeFn()
		}
	})
	c.shutdown()
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
