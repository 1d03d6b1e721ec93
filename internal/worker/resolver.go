package worker

import (
	"fmt"

	"github.com/mattjoyce/bootrelay/internal/entrypoint"
)

// Resolver maps a dispatcher handle to the entrypoint the worker boots into.
type Resolver interface {
	Resolve(handle int64) (entrypoint.Entry, error)
}

// StaticResolver is a fixed handle -> entrypoint table.
type StaticResolver map[int64]entrypoint.Entry

func (r StaticResolver) Resolve(handle int64) (entrypoint.Entry, error) {
	e, ok := r[handle]
	if !ok {
		return entrypoint.Entry{}, fmt.Errorf("%w: %d", entrypoint.ErrNotFound, handle)
	}
	if e.Handle == 0 {
		e.Handle = handle
	}
	return e, nil
}
