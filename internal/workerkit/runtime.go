// Package workerkit is the worker side of the bootrelay protocol. A worker
// program registers one callback per callback handle and calls Serve with its
// stdin and stdout.
package workerkit

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

// ErrNotImplemented makes a callback answer "not implemented".
var ErrNotImplemented = errors.New("not implemented")

// Callback runs for every work call addressed to its handle. A nil result is
// reported as true.
type Callback func(ctx context.Context, ev protocol.Event) (any, error)

// Runtime reads work calls and writes replies.
type Runtime struct {
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	logger *slog.Logger

	nextID atomic.Int64

	mu        sync.RWMutex
	callbacks map[int64]Callback
}

func New(r io.Reader, w io.Writer, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		enc:       protocol.NewEncoder(w),
		dec:       protocol.NewDecoder(r),
		logger:    logger,
		callbacks: make(map[int64]Callback),
	}
}

// Register binds cb to handle, replacing any previous binding.
func (rt *Runtime) Register(handle int64, cb Callback) {
	rt.mu.Lock()
	rt.callbacks[handle] = cb
	rt.mu.Unlock()
}

// Serve announces readiness and then answers work calls, one at a time, until
// the core closes the stream or ctx is done. A clean end of input returns nil.
func (rt *Runtime) Serve(ctx context.Context) error {
	frames := make(chan *protocol.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			env, raw, err := rt.dec.Decode()
			if errors.Is(err, protocol.ErrMalformed) {
				rt.logger.Warn("skipping malformed frame", "error", err, "frame", string(raw))
				rt.rejectMalformed(env, err)
				continue
			}
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := rt.enc.Encode(protocol.NewControlCall(rt.nextID.Add(1), protocol.MethodReady)); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case env := <-frames:
			rt.handle(ctx, env)
		}
	}
}

func (rt *Runtime) handle(ctx context.Context, env *protocol.Envelope) {
	switch {
	case env.Channel == protocol.ChannelWork && env.Kind == protocol.KindCall:
		reply := rt.run(ctx, env)
		if err := rt.enc.Encode(reply.Envelope(protocol.ChannelWork, env.ID)); err != nil {
			rt.logger.Error("failed to send reply", "id", env.ID, "error", err)
		}
	case env.Channel == protocol.ChannelControl && env.Kind == protocol.KindReply:
		r := protocol.ReplyFromEnvelope(env)
		if r.Ack() {
			rt.logger.Debug("core acknowledged ready")
		} else {
			rt.logger.Warn("core rejected control call", "outcome", r.Outcome.String(), "message", r.Message)
		}
	case env.Channel == protocol.ChannelControl && env.Kind == protocol.KindCall:
		// Control calls only flow worker -> core.
		_ = rt.enc.Encode(protocol.ReplyNotImplemented().Envelope(protocol.ChannelControl, env.ID))
	}
}

// rejectMalformed answers a work call that failed validation so the core does
// not wait out its call timeout. Frames without an ID get no reply.
func (rt *Runtime) rejectMalformed(env *protocol.Envelope, cause error) {
	if env == nil || env.ID == 0 || env.Kind != protocol.KindCall || env.Channel != protocol.ChannelWork {
		return
	}
	reply := protocol.ReplyError(cause.Error())
	if err := rt.enc.Encode(reply.Envelope(protocol.ChannelWork, env.ID)); err != nil {
		rt.logger.Error("failed to reject malformed call", "id", env.ID, "error", err)
	}
}

func (rt *Runtime) run(ctx context.Context, env *protocol.Envelope) (reply protocol.Reply) {
	handle, _ := env.CallbackHandle()

	rt.mu.RLock()
	cb, ok := rt.callbacks[handle]
	rt.mu.RUnlock()
	if !ok {
		rt.logger.Warn("no callback registered", "handle", handle)
		return protocol.ReplyNotImplemented()
	}

	var ev protocol.Event
	if env.Event != nil {
		ev = *env.Event
	}

	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("callback panicked", "handle", handle, "panic", r)
			reply = protocol.ReplyError(fmt.Sprintf("callback panicked: %v", r))
		}
	}()

	result, err := cb(ctx, ev)
	switch {
	case errors.Is(err, ErrNotImplemented):
		return protocol.ReplyNotImplemented()
	case err != nil:
		return protocol.ReplyError(err.Error())
	case result == nil:
		return protocol.ReplyOK(true)
	default:
		return protocol.ReplyOK(result)
	}
}
