// Package relay wires the handle store, worker manager, dispatch queue,
// notification hub and dispatch journal into one service instance.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/bootrelay/internal/dispatch"
	"github.com/mattjoyce/bootrelay/internal/events"
	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/state"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

// Health is the snapshot served by the health endpoint and the watch view.
type Health struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	WorkerState   string        `json:"worker_state"`
	QueueDepth    int           `json:"queue_depth"`
	Worker        worker.Status `json:"worker"`
}

// Options configures a Service. Store, Resolver and Launcher are required;
// DB is optional and, when set, backs the journal and is closed on Shutdown.
type Options struct {
	DB          *sql.DB
	Store       state.HandleStore
	Resolver    worker.Resolver
	Launcher    worker.Launcher
	Hub         *events.Hub
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Service is the single relay instance owned by a process.
type Service struct {
	db      *sql.DB
	store   state.HandleStore
	hub     *events.Hub
	journal *journal.Journal
	manager *worker.Manager
	queue   *dispatch.Queue
	logger  *slog.Logger
	started time.Time

	stopOnce sync.Once
	stopErr  error
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Resolver == nil || opts.Launcher == nil {
		return nil, errors.New("relay: store, resolver and launcher are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub(256)
	}

	s := &Service{
		db:      opts.DB,
		store:   opts.Store,
		hub:     hub,
		logger:  logger.With("component", "relay"),
		started: time.Now(),
	}

	wopts := worker.Options{
		Resolver:    opts.Resolver,
		Launcher:    opts.Launcher,
		Store:       opts.Store,
		Hub:         hub,
		CallTimeout: opts.CallTimeout,
		Logger:      logger,
	}
	if opts.DB != nil {
		s.journal = journal.New(opts.DB)
		wopts.Journal = s.journal
	}
	s.manager = worker.NewManager(wopts)
	s.queue = dispatch.New(s.manager, hub, logger)
	return s, nil
}

// Start persists the handle pair and boots the worker at the dispatcher handle.
// The handles are saved even when a worker is already running, so a repeated
// start still redirects later dispatches to the new callback handle.
func (s *Service) Start(ctx context.Context, dispatcherHandle, callbackHandle int64) error {
	h := state.Handles{Dispatcher: dispatcherHandle, Callback: callbackHandle}
	if err := s.store.Save(ctx, h); err != nil {
		return fmt.Errorf("save handles: %w", err)
	}
	s.logger.Info("handles saved", "dispatcher_handle", dispatcherHandle, "callback_handle", callbackHandle)
	s.hub.Publish(events.TypeHandlesSaved, map[string]any{
		"dispatcher_handle": dispatcherHandle,
		"callback_handle":   callbackHandle,
	})
	return s.manager.Start(ctx, dispatcherHandle)
}

// Submit accepts an event for eventual dispatch.
func (s *Service) Submit(ctx context.Context, ev protocol.Event) dispatch.Disposition {
	return s.queue.Submit(ctx, ev)
}

// SubmitAndWait submits ev and waits for its dispatch result.
func (s *Service) SubmitAndWait(ctx context.Context, ev protocol.Event) (worker.Result, error) {
	return s.queue.SubmitAndWait(ctx, ev)
}

func (s *Service) Health() Health {
	st := s.manager.Status()
	return Health{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WorkerState:   st.State.String(),
		QueueDepth:    s.queue.Len(),
		Worker:        st,
	}
}

func (s *Service) Hub() *events.Hub {
	return s.hub
}

// Recent returns the latest journal entries, newest first. Without a database
// there is nothing to return.
func (s *Service) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}

// PruneJournal drops journal entries completed before now minus retention.
func (s *Service) PruneJournal(ctx context.Context, retention time.Duration) (int64, error) {
	if s.journal == nil || retention <= 0 {
		return 0, nil
	}
	return s.journal.Prune(ctx, time.Now().UTC().Add(-retention))
}

// Shutdown discards queued events, stops the worker and closes the database.
// Later calls return the first call's error.
func (s *Service) Shutdown() error {
	s.stopOnce.Do(func() {
		s.queue.Shutdown()
		s.stopErr = s.manager.Close()
		if s.db != nil {
			if err := s.db.Close(); err != nil && s.stopErr == nil {
				s.stopErr = err
			}
		}
		s.logger.Info("relay stopped")
	})
	return s.stopErr
}
