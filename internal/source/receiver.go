package source

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	"github.com/mattjoyce/bootrelay/internal/dispatch"
	"github.com/mattjoyce/bootrelay/internal/protocol"
)

// Submitter accepts events for eventual dispatch.
type Submitter interface {
	Submit(ctx context.Context, ev protocol.Event) dispatch.Disposition
}

// Receiver filters boot actions and submits matching events.
type Receiver struct {
	sub         Submitter
	name        string
	bootOnStart bool
	logger      *slog.Logger
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithBootOnStart makes Run emit one boot_completed event before watching signals.
func WithBootOnStart(on bool) Option {
	return func(r *Receiver) { r.bootOnStart = on }
}

// WithName sets the Source field stamped on events. Defaults to "receiver".
func WithName(name string) Option {
	return func(r *Receiver) { r.name = name }
}

// NewReceiver builds a receiver submitting to sub.
func NewReceiver(sub Submitter, logger *slog.Logger, opts ...Option) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{
		sub:    sub,
		name:   "receiver",
		logger: logger.With("component", "source"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive handles one broadcast action. Unrecognised actions are logged and
// dropped; the returned bool says whether an event was submitted.
func (r *Receiver) Receive(ctx context.Context, action string) (protocol.Event, dispatch.Disposition, bool) {
	r.logger.Info("received broadcast", "action", action)

	kind, ok := KindFor(action)
	if !ok {
		r.logger.Warn("unhandled broadcast action", "action", action)
		return protocol.Event{}, dispatch.Rejected, false
	}

	ev := protocol.NewEvent(kind, r.name, map[string]string{"action": action})
	disp := r.sub.Submit(ctx, ev)
	r.logger.Info("boot event submitted", "event_id", ev.ID, "event_kind", kind, "disposition", disp.String())
	return ev, disp, true
}

// SignalAction maps an OS signal to the boot action it stands for.
func SignalAction(sig os.Signal) (string, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return KindQuickbootPoweron, true
	case syscall.SIGHUP:
		return KindBootCompleted, true
	default:
		return "", false
	}
}

// Run emits the start-up boot event if configured, then turns signals into
// events until ctx is done or signals is closed.
func (r *Receiver) Run(ctx context.Context, signals <-chan os.Signal) error {
	if r.bootOnStart {
		r.Receive(ctx, KindBootCompleted)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			action, known := SignalAction(sig)
			if !known {
				r.logger.Debug("ignoring signal", "signal", sig.String())
				continue
			}
			r.Receive(ctx, action)
		}
	}
}
