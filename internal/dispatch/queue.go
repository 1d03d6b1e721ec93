package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/bootrelay/internal/events"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

// ErrShutdown resolves waiters whose events were discarded by Shutdown.
var ErrShutdown = errors.New("dispatch queue shut down")

// Lifecycle is the part of the worker manager the queue depends on.
type Lifecycle interface {
	State() worker.State
	StartFromStore(ctx context.Context) error
	Dispatch(ev protocol.Event) <-chan worker.Result
	SetReadyHook(fn func())
}

// Disposition says what Submit did with an event.
type Disposition int

const (
	Rejected Disposition = iota
	Queued
	Dispatched
)

func (d Disposition) String() string {
	switch d {
	case Queued:
		return "queued"
	case Dispatched:
		return "dispatched"
	default:
		return "rejected"
	}
}

type pending struct {
	event    protocol.Event
	waiter   chan worker.Result // nil for fire-and-forget
	queuedAt time.Time
}

// Queue defers events until the worker is ready.
type Queue struct {
	lc     Lifecycle
	hub    *events.Hub
	logger *slog.Logger

	mu       sync.Mutex
	pending  []pending
	draining bool
	drained  bool
	closed   bool
}

// New builds a queue over lc and installs the drain as lc's ready hook.
func New(lc Lifecycle, hub *events.Hub, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		lc:     lc,
		hub:    hub,
		logger: logger.With("component", "dispatch"),
	}
	lc.SetReadyHook(q.drain)
	if lc.State() == worker.Ready {
		q.drained = true
	}
	return q
}

// Submit dispatches ev now if the worker is ready, otherwise queues it. It
// kicks off a worker start from the persisted handles when none is running.
func (q *Queue) Submit(ctx context.Context, ev protocol.Event) Disposition {
	return q.submit(ctx, ev, nil)
}

// SubmitAndWait is Submit plus a wait for the dispatch result, however long the
// event sits in the queue. ctx bounds only the wait.
func (q *Queue) SubmitAndWait(ctx context.Context, ev protocol.Event) (worker.Result, error) {
	waiter := make(chan worker.Result, 1)
	q.submit(ctx, ev, waiter)
	return worker.Await(ctx, waiter)
}

func (q *Queue) submit(ctx context.Context, ev protocol.Event, waiter chan worker.Result) Disposition {
	logger := q.logger.With("event_id", ev.ID, "event_kind", ev.Kind)

	// Start runs outside the lock; it is idempotent.
	if q.lc.State() == worker.NotStarted {
		err := q.lc.StartFromStore(ctx)
		switch {
		case errors.Is(err, worker.ErrNoHandles):
			logger.Info("no start command received yet, event waits for one")
		case err != nil:
			logger.Error("failed to start worker, event stays queued", "error", err)
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		logger.Warn("event rejected, queue is shut down")
		if waiter != nil {
			waiter <- worker.Result{Event: ev, Err: ErrShutdown}
		}
		return Rejected
	}
	if q.drained {
		q.mu.Unlock()
		logger.Debug("worker ready, dispatching immediately")
		q.dispatch(ev, waiter)
		return Dispatched
	}
	q.pending = append(q.pending, pending{event: ev, waiter: waiter, queuedAt: time.Now().UTC()})
	depth := len(q.pending)
	q.mu.Unlock()

	logger.Info("worker not ready, event queued", "depth", depth)
	q.hub.Publish(events.TypeEventQueued, map[string]any{"event_id": ev.ID, "event_kind": ev.Kind, "depth": depth})
	return Queued
}

func (q *Queue) dispatch(ev protocol.Event, waiter chan worker.Result) {
	ch := q.lc.Dispatch(ev)
	if waiter == nil {
		return
	}
	go func() { waiter <- <-ch }()
}

// drain replays the pending queue once the worker is ready. Events submitted
// while a batch is being dispatched land in the next batch, so everything
// queued goes out before the queue starts dispatching directly.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.drained || q.draining || q.closed {
		q.mu.Unlock()
		return
	}
	q.draining = true

	total := 0
	var oldest time.Time
	for {
		batch := q.pending
		q.pending = nil
		if len(batch) == 0 || q.closed {
			q.draining = false
			q.drained = !q.closed
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()

		if oldest.IsZero() {
			oldest = batch[0].queuedAt
		}
		for _, p := range batch {
			q.dispatch(p.event, p.waiter)
		}
		total += len(batch)

		q.mu.Lock()
	}

	var waited time.Duration
	if !oldest.IsZero() {
		waited = time.Since(oldest)
	}
	q.logger.Info("pending queue drained", "dispatched", total, "oldest_wait", waited)
	q.hub.Publish(events.TypeQueueDrained, map[string]any{"dispatched": total})
}

// Shutdown discards queued events, failing their waiters with ErrShutdown.
// Later submissions are rejected. It is for process teardown only.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.drained = false
	q.draining = false
	q.closed = true
	q.mu.Unlock()

	for _, p := range dropped {
		if p.waiter != nil {
			p.waiter <- worker.Result{Event: p.event, Err: ErrShutdown}
		}
	}
	if len(dropped) > 0 {
		q.logger.Warn("queue shut down with undelivered events", "discarded", len(dropped))
	}
}

// Len is the number of events waiting for readiness.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
