// Package worker owns the single background worker: starting it at most once,
// tracking its readiness, and serializing work calls to it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/events"
	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/state"
)

const defaultCallTimeout = 120 * time.Second

// Recorder persists dispatch outcomes.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures a Manager. Resolver, Launcher and Store are required.
type Options struct {
	Resolver    Resolver
	Launcher    Launcher
	Store       state.HandleStore
	Hub         *events.Hub
	Journal     Recorder
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Result is the terminal outcome of one dispatch. Err is set when the call
// never produced a worker reply (not started, transport failure, timeout).
type Result struct {
	Event          protocol.Event
	CallbackHandle int64
	Outcome        protocol.Outcome
	Message        string
	Err            error
}

// OK reports a worker-acknowledged success.
func (r Result) OK() bool {
	return r.Err == nil && r.Outcome == protocol.OutcomeSuccess
}

// Status is a point-in-time view of the manager.
type Status struct {
	State      State     `json:"state"`
	Worker     string    `json:"worker,omitempty"`
	BootHandle int64     `json:"boot_handle,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ReadyAt    time.Time `json:"ready_at,omitempty"`
	Mailbox    int       `json:"mailbox"`
}

// Manager owns one worker for the lifetime of the process.
type Manager struct {
	resolver    Resolver
	launcher    Launcher
	store       state.HandleStore
	hub         *events.Hub
	journal     Recorder
	callTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	conn      Conn
	entry     entrypoint.Entry
	startedAt time.Time
	readyAt   time.Time
	readyHook func()
	closed    bool

	box  *mailbox
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Manager{
		resolver:    opts.Resolver,
		launcher:    opts.Launcher,
		store:       opts.Store,
		hub:         opts.Hub,
		journal:     opts.Journal,
		callTimeout: timeout,
		logger:      logger.With("component", "worker"),
		box:         newMailbox(),
		stop:        make(chan struct{}),
	}
}

// SetReadyHook registers fn to run once, right after the worker reports ready.
func (m *Manager) SetReadyHook(fn func()) {
	m.mu.Lock()
	m.readyHook = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsReady() bool {
	return m.State() == Ready
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		Worker:     m.entry.Name,
		BootHandle: m.entry.Handle,
		StartedAt:  m.startedAt,
		ReadyAt:    m.readyAt,
		Mailbox:    m.box.len(),
	}
}

// Start boots the worker at the entrypoint for bootHandle. A second call while
// a worker exists is a logged no-op. If the entrypoint cannot be resolved or
// launched the state stays NotStarted and a later Start may retry.
func (m *Manager) Start(ctx context.Context, bootHandle int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrWorkerClosed
	}
	if m.state != NotStarted {
		st := m.state
		m.mu.Unlock()
		m.logger.Warn("worker already started, ignoring start", "state", st.String(), "boot_handle", bootHandle)
		return nil
	}
	m.state = Starting
	m.mu.Unlock()

	entry, err := m.resolver.Resolve(bootHandle)
	if err != nil {
		m.revert()
		m.logger.Error("fatal: failed to resolve worker entrypoint", "boot_handle", bootHandle, "error", err)
		m.hub.Publish(events.TypeWorkerFailed, map[string]any{"boot_handle": bootHandle, "error": err.Error()})
		if errors.Is(err, entrypoint.ErrNotFound) {
			return fmt.Errorf("%w: handle %d: %w", ErrEntrypointNotFound, bootHandle, err)
		}
		return fmt.Errorf("resolve worker entrypoint for handle %d: %w", bootHandle, err)
	}

	m.hub.Publish(events.TypeWorkerStarting, map[string]any{"worker": entry.Name, "boot_handle": bootHandle})
	conn, err := m.launcher.Launch(ctx, entry)
	if err != nil {
		m.revert()
		m.logger.Error("failed to launch worker", "worker", entry.Name, "error", err)
		m.hub.Publish(events.TypeWorkerFailed, map[string]any{"worker": entry.Name, "boot_handle": bootHandle, "error": err.Error()})
		return fmt.Errorf("launch worker %q: %w", entry.Name, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrWorkerClosed
	}
	m.conn = conn
	m.entry = entry
	m.startedAt = time.Now().UTC()
	m.mu.Unlock()

	gone := make(chan struct{})
	m.wg.Add(2)
	go m.serve(conn, gone)
	go m.consume(conn, gone)

	m.logger.Info("worker started, waiting for ready", "worker", entry.Name, "boot_handle", bootHandle)
	return nil
}

// StartFromStore starts the worker with the persisted dispatcher handle. It
// returns ErrNoHandles, without touching state, when none has been saved.
func (m *Manager) StartFromStore(ctx context.Context) error {
	h, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load handles: %w", err)
	}
	if h.Dispatcher == 0 {
		return ErrNoHandles
	}
	return m.Start(ctx, h.Dispatcher)
}

func (m *Manager) revert() {
	m.mu.Lock()
	if m.state == Starting {
		m.state = NotStarted
	}
	m.mu.Unlock()
}

// serve answers control calls until the transport closes. A worker that goes
// away before reporting ready leaves the manager NotStarted so a later Start
// can launch it again.
func (m *Manager) serve(conn Conn, gone chan struct{}) {
	defer m.wg.Done()
	err := conn.Serve(m.handleControl)

	m.mu.Lock()
	abandoned := m.state == Starting && m.conn == conn
	name, handle := m.entry.Name, m.entry.Handle
	if abandoned {
		m.state = NotStarted
		m.conn = nil
		m.entry = entrypoint.Entry{}
		m.startedAt = time.Time{}
	}
	m.mu.Unlock()

	if !abandoned {
		m.logger.Info("worker transport closed", "reason", err)
		m.hub.Publish(events.TypeWorkerExited, map[string]any{"worker": name})
		return
	}

	close(gone)
	m.logger.Error("worker exited before ready", "worker", name, "boot_handle", handle, "reason", err)
	m.hub.Publish(events.TypeWorkerFailed, map[string]any{"worker": name, "boot_handle": handle, "error": fmt.Sprint(err)})
	for _, req := range m.box.drain() {
		req.out <- Result{Event: req.event, Err: ErrTransportClosed}
	}
}

// handleControl answers worker-initiated control messages.
func (m *Manager) handleControl(msg protocol.ControlMessage) protocol.Reply {
	switch msg := msg.(type) {
	case protocol.Ready:
		m.markReady()
		return protocol.ReplyOK(true)
	case protocol.Unknown:
		m.logger.Warn("unknown control message", "method", msg.Name)
		return protocol.ReplyNotImplemented()
	default:
		return protocol.ReplyNotImplemented()
	}
}

func (m *Manager) markReady() {
	m.mu.Lock()
	if m.state == Ready {
		m.mu.Unlock()
		m.logger.Debug("duplicate ready ignored")
		return
	}
	m.state = Ready
	m.readyAt = time.Now().UTC()
	hook := m.readyHook
	name := m.entry.Name
	m.mu.Unlock()

	m.logger.Info("worker ready", "worker", name)
	m.hub.Publish(events.TypeWorkerReady, map[string]any{"worker": name})
	if hook != nil {
		hook()
	}
}

// Dispatch hands ev to the worker and returns a channel that receives exactly
// one Result. It never blocks on the worker; callers that do not care about
// completion may drop the channel.
func (m *Manager) Dispatch(ev protocol.Event) <-chan Result {
	out := make(chan Result, 1)

	m.mu.Lock()
	closed, conn := m.closed, m.conn
	m.mu.Unlock()

	switch {
	case closed:
		out <- Result{Event: ev, Err: ErrWorkerClosed}
	case conn == nil:
		m.logger.Error("dispatch attempted before worker started", "event_id", ev.ID, "event_kind", ev.Kind)
		out <- Result{Event: ev, Err: ErrWorkerNotStarted}
	default:
		if !m.box.push(request{event: ev, out: out, received: time.Now().UTC()}) {
			out <- Result{Event: ev, Err: ErrWorkerClosed}
		}
	}
	return out
}

// Await blocks until ch resolves or ctx is done.
func Await(ctx context.Context, ch <-chan Result) (Result, error) {
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (m *Manager) consume(conn Conn, gone <-chan struct{}) {
	defer m.wg.Done()
	for {
		req, ok := m.box.next(m.stop, gone)
		if !ok {
			return
		}
		m.deliver(conn, req)
	}
}

// deliver runs one work call. The callback handle is read fresh for every
// call so a later start request can redirect dispatches.
func (m *Manager) deliver(conn Conn, req request) {
	res := Result{Event: req.event}
	logger := m.logger.With("event_id", req.event.ID, "event_kind", req.event.Kind)
	dispatchedAt := time.Now().UTC()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panicked", "panic", r)
			res.Err = fmt.Errorf("dispatch panicked: %v", r)
		}
		m.finish(logger, res, dispatchedAt)
		req.out <- res
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()

	h, err := m.store.Load(ctx)
	if err != nil {
		res.Err = fmt.Errorf("load callback handle: %w", err)
		return
	}
	res.CallbackHandle = h.Callback

	reply, err := conn.Call(ctx, h.Callback, req.event)
	if err != nil {
		res.Err = err
		return
	}
	res.Outcome = reply.Outcome
	res.Message = reply.Message
}

func (m *Manager) finish(logger *slog.Logger, res Result, dispatchedAt time.Time) {
	outcome := res.Outcome.String()
	msg := res.Message
	switch {
	case res.Err != nil:
		outcome = "failed"
		msg = res.Err.Error()
		logger.Error("dispatch failed", "callback_handle", res.CallbackHandle, "error", res.Err)
	case res.Outcome == protocol.OutcomeSuccess:
		logger.Info("dispatch completed", "callback_handle", res.CallbackHandle)
	default:
		logger.Warn("worker rejected dispatch", "callback_handle", res.CallbackHandle, "outcome", outcome, "message", msg)
	}

	if m.journal != nil {
		err := m.journal.Record(context.Background(), journal.Entry{
			EventID:        res.Event.ID,
			EventKind:      res.Event.Kind,
			EventSource:    res.Event.Source,
			CallbackHandle: res.CallbackHandle,
			Outcome:        outcome,
			Message:        msg,
			EventAt:        res.Event.At,
			DispatchedAt:   dispatchedAt,
			CompletedAt:    time.Now().UTC(),
		})
		if err != nil {
			logger.Error("failed to record dispatch", "error", err)
		}
	}

	m.hub.Publish(events.TypeEventDispatched, map[string]any{
		"event_id":        res.Event.ID,
		"event_kind":      res.Event.Kind,
		"callback_handle": res.CallbackHandle,
		"outcome":         outcome,
		"message":         msg,
	})
}

// Close stops the consumer, closes the worker transport and fails anything
// still waiting in the mailbox with ErrWorkerClosed. State is left as is.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.mu.Unlock()

	close(m.stop)
	for _, req := range m.box.close() {
		req.out <- Result{Event: req.event, Err: ErrWorkerClosed}
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	return err
}
