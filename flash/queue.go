package flash

import "sync"

// request is one pending page program. buf is owned by the request until the write
// completes or the request is dropped.
type request struct {
	buf  []byte
	addr uint32
	size uint32
}

// writeQueue is a bounded FIFO of write requests. It never blocks and never
// overwrites: push on a full queue fails.
type writeQueue struct {
	mu    sync.Mutex
	head  uint32
	tail  uint32
	slots []request
}

func newWriteQueue(n int) *writeQueue {
	return &writeQueue{slots: make([]request, n)}
}

func (q *writeQueue) push(req request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head-q.tail >= uint32(len(q.slots)) {
		return false
	}
	q.slots[q.head%uint32(len(q.slots))] = req
	q.head++
	return true
}

func (q *writeQueue) pop() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == q.head {
		return request{}, false
	}
	idx := q.tail % uint32(len(q.slots))
	req := q.slots[idx]
	q.slots[idx] = request{}
	q.tail++
	return req, true
}

// reset empties the queue and hands the dropped requests back to the caller, who
// owns their buffers from then on.
func (q *writeQueue) reset() []request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []request
	for q.tail != q.head {
		idx := q.tail % uint32(len(q.slots))
		dropped = append(dropped, q.slots[idx])
		q.slots[idx] = request{}
		q.tail++
	}
	q.head, q.tail = 0, 0
	return dropped
}

func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.head - q.tail)
}

func (q *writeQueue) cap() int { return len(q.slots) }
