package kernel

import "sync"

// Dispatcher delivers posted messages to a handler on its own goroutine.
//
// The handler runs in "event context": it is never re-entered and it observes messages
// in the order they were posted, the way an interrupt or SWI handler would.
type Dispatcher[T any] struct {
	mb      *Mailbox[T]
	handler func(T)

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher starts a dispatcher with room for n undelivered messages.
func NewDispatcher[T any](n int, handler func(T)) *Dispatcher[T] {
	d := &Dispatcher[T]{
		mb:      NewMailbox[T](n),
		handler: handler,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()
	for {
		msg, ok := d.mb.Recv()
		if !ok {
			return
		}
		if d.handler != nil {
			d.handler(msg)
		}
	}
}

// Post queues a message for delivery. It reports false if the mailbox is full or the
// dispatcher was stopped.
func (d *Dispatcher[T]) Post(msg T) bool {
	return d.mb.TrySend(msg)
}

// Stop delivers the messages already posted, then stops the goroutine.
func (d *Dispatcher[T]) Stop() {
	d.stopOnce.Do(func() {
		d.mb.Close()
		d.wg.Wait()
	})
}
