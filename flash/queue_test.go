package flash

import "testing"

func TestWriteQueueFIFO(t *testing.T) {
	q := newWriteQueue(4)
	for i := uint32(0); i < 3; i++ {
		if !q.push(request{addr: i}) {
			t.Fatalf("push(%d) = false, want true", i)
		}
	}
	for i := uint32(0); i < 3; i++ {
		req, ok := q.pop()
		if !ok {
			t.Fatalf("pop() ok = false at %d, want true", i)
		}
		if req.addr != i {
			t.Fatalf("pop() addr = %d, want %d", req.addr, i)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("pop() on empty queue ok = true, want false")
	}
}

func TestWriteQueueFullRejects(t *testing.T) {
	q := newWriteQueue(DefaultQueueCapacity)
	for i := 0; i < DefaultQueueCapacity; i++ {
		if !q.push(request{addr: uint32(i)}) {
			t.Fatalf("push() = false at %d, want true", i)
		}
	}
	if q.push(request{addr: 99}) {
		t.Fatalf("push() on full queue = true, want false")
	}
	if got := q.len(); got != DefaultQueueCapacity {
		t.Fatalf("len() = %d, want %d", got, DefaultQueueCapacity)
	}
	req, _ := q.pop()
	if req.addr != 0 {
		t.Fatalf("full push overwrote head: addr = %d, want 0", req.addr)
	}
}

func TestWriteQueueWrapsAround(t *testing.T) {
	q := newWriteQueue(3)
	for round := uint32(0); round < 10; round++ {
		q.push(request{addr: round})
		q.push(request{addr: round + 100})
		a, _ := q.pop()
		b, _ := q.pop()
		if a.addr != round || b.addr != round+100 {
			t.Fatalf("round %d: got %d, %d", round, a.addr, b.addr)
		}
	}
}

func TestWriteQueueResetReturnsDropped(t *testing.T) {
	q := newWriteQueue(4)
	q.push(request{addr: 1, buf: []byte{1}})
	q.push(request{addr: 2, buf: []byte{2}})

	dropped := q.reset()
	if len(dropped) != 2 || dropped[0].addr != 1 || dropped[1].addr != 2 {
		t.Fatalf("reset() = %+v, want requests 1 and 2", dropped)
	}
	if got := q.len(); got != 0 {
		t.Fatalf("len() after reset = %d, want 0", got)
	}
	if got := q.cap(); got != 4 {
		t.Fatalf("cap() after reset = %d, want 4", got)
	}
	if dropped := q.reset(); len(dropped) != 0 {
		t.Fatalf("reset() on empty queue returned %d requests", len(dropped))
	}
}
