// Package state persists the two worker handles across process restarts.
package state

import (
	"context"
	"sync"
)

// Namespace groups the persisted handle keys.
const Namespace = "bootrelay.handles"

// Keys under Namespace.
const (
	KeyDispatcher = "callback_dispatcher_handle"
	KeyCallback   = "callback_handle"
)

// Handles is the persisted pair. A zero value means "never saved".
type Handles struct {
	Dispatcher int64 `json:"dispatcher_handle"`
	Callback   int64 `json:"callback_handle"`
}

// HandleStore is a durable last-write-wins store for Handles.
// Each Load is a fresh snapshot.
type HandleStore interface {
	Save(ctx context.Context, h Handles) error
	Load(ctx context.Context) (Handles, error)
}

// MemoryStore keeps handles in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	h  Handles
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, h Handles) error {
	m.mu.Lock()
	m.h = h
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(context.Context) (Handles, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.h, nil
}
