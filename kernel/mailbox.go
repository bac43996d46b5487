package kernel

import (
	"runtime"
	"sync"
)

// Mailbox is a fixed-size multi-producer, single-consumer queue.
//
// It never allocates after construction. Recv parks on a notify channel instead of
// spinning, TrySend never blocks.
type Mailbox[T any] struct {
	_ [0]func() // prevent accidental copying.

	mu     sync.Mutex
	head   uint32
	tail   uint32
	slots  []T
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewMailbox returns a mailbox with room for n messages.
func NewMailbox[T any](n int) *Mailbox[T] {
	if n <= 0 {
		n = 1
	}
	return &Mailbox[T]{
		slots:  make([]T, n),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Cap returns the number of slots.
func (mb *Mailbox[T]) Cap() int { return len(mb.slots) }

// Len returns the number of queued messages.
func (mb *Mailbox[T]) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return int(mb.head - mb.tail)
}

// TrySend attempts to enqueue a message, returning false if the mailbox is full or closed.
func (mb *Mailbox[T]) TrySend(msg T) bool {
	mb.mu.Lock()
	if mb.closed || mb.head-mb.tail >= uint32(len(mb.slots)) {
		mb.mu.Unlock()
		return false
	}
	mb.slots[mb.head%uint32(len(mb.slots))] = msg
	mb.head++
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return true
}

// Send enqueues a message, yielding until there is room. It reports false if the
// mailbox is closed.
func (mb *Mailbox[T]) Send(msg T) bool {
	for !mb.TrySend(msg) {
		if mb.isClosed() {
			return false
		}
		runtime.Gosched()
	}
	return true
}

// TryRecv attempts to dequeue one message, returning false if empty.
func (mb *Mailbox[T]) TryRecv() (T, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var zero T
	if mb.tail == mb.head {
		return zero, false
	}
	idx := mb.tail % uint32(len(mb.slots))
	msg := mb.slots[idx]
	mb.slots[idx] = zero
	mb.tail++
	return msg, true
}

// Recv blocks until one message is available. After Close it keeps returning the
// remaining messages and then reports false.
func (mb *Mailbox[T]) Recv() (T, bool) {
	for {
		if msg, ok := mb.TryRecv(); ok {
			return msg, true
		}
		select {
		case <-mb.notify:
		case <-mb.done:
			return mb.TryRecv()
		}
	}
}

// Close rejects further sends and wakes a blocked receiver.
func (mb *Mailbox[T]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.done)
}

func (mb *Mailbox[T]) isClosed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}
