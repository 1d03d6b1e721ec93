package worker

import (
	"sync"
	"time"

	"github.com/mattjoyce/bootrelay/internal/protocol"
)

type request struct {
	event    protocol.Event
	out      chan<- Result
	received time.Time
}

// mailbox is an unbounded FIFO with a single consumer. Producers never block.
type mailbox struct {
	mu     sync.Mutex
	items  []request
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push appends r. It reports false once the mailbox is closed.
func (b *mailbox) push(r request) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, r)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// next blocks until an item is available or either stop or gone is closed.
// A nil gone never fires.
func (b *mailbox) next(stop, gone <-chan struct{}) (request, bool) {
	for {
		select {
		case <-stop:
			return request{}, false
		case <-gone:
			return request{}, false
		default:
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return request{}, false
		}
		if len(b.items) > 0 {
			r := b.items[0]
			b.items[0] = request{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return r, true
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-stop:
			return request{}, false
		case <-gone:
			return request{}, false
		}
	}
}

// drain hands back everything queued without closing the mailbox.
func (b *mailbox) drain() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := b.items
	b.items = nil
	return left
}

// close rejects further pushes and hands back whatever was never consumed.
func (b *mailbox) close() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	left := b.items
	b.items = nil
	return left
}

func (b *mailbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
