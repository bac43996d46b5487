package flash

import "sync"

// Allocator provides write buffers. Alloc returns nil when memory is exhausted.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap and tracks live buffers.
//
// Limit caps the number of live bytes; zero means unlimited.
type HeapAllocator struct {
	Limit int

	mu    sync.Mutex
	live  int
	bytes int
}

func (a *HeapAllocator) Alloc(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Limit > 0 && a.bytes+n > a.Limit {
		return nil
	}
	a.live++
	a.bytes += n
	return make([]byte, n)
}

func (a *HeapAllocator) Free(b []byte) {
	if b == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live--
	a.bytes -= cap(b)
}

// Live returns the number of buffers allocated and not yet freed.
func (a *HeapAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
