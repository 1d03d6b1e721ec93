package worker

import (
	"errors"
	"fmt"
)

// State is the lifecycle of the single worker. Transitions only move forward:
// NotStarted -> Starting -> Ready. A failed start falls back to NotStarted.
type State int32

const (
	NotStarted State = iota
	Starting
	Ready
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not_started":
		*s = NotStarted
	case "starting":
		*s = Starting
	case "ready":
		*s = Ready
	default:
		return fmt.Errorf("unknown worker state %q", b)
	}
	return nil
}

var (
	// ErrWorkerNotStarted is returned for a dispatch attempted before any worker exists.
	ErrWorkerNotStarted = errors.New("worker not started")
	// ErrNoHandles means no start command has saved a dispatcher handle yet.
	ErrNoHandles = errors.New("no dispatcher handle saved")
	// ErrEntrypointNotFound means the boot handle did not resolve to a runnable entrypoint.
	ErrEntrypointNotFound = errors.New("worker entrypoint not found")
	// ErrTransportClosed means the worker's pipes are gone.
	ErrTransportClosed = errors.New("worker transport closed")
	// ErrWorkerClosed is returned after Close.
	ErrWorkerClosed = errors.New("worker closed")
)
