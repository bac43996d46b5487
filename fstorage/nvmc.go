package fstorage

import (
	"sync"
	"time"

	"tinygo.org/x/tinyfs"

	"nrfhal/kernel"
)

const (
	defaultQueueSize   = 4
	defaultProgramUnit = 4

	// ErasedValue is the byte value of erased NOR cells.
	ErasedValue = 0xFF
)

// NVMCOptions configures an NVMC instance.
type NVMCOptions struct {
	// QueueSize bounds queued plus in-flight plus undelivered operations.
	QueueSize int
	// ProgramUnit is the write granularity in bytes.
	ProgramUnit uint32
	// WriteLatency and EraseLatency delay each operation to mimic the controller.
	WriteLatency time.Duration
	EraseLatency time.Duration
}

type opKind uint8

const (
	opWrite opKind = iota + 1
	opErase
)

type op struct {
	kind  opKind
	addr  uint32
	pages uint32
	data  []byte
	param any
}

// NVMC emulates the non-volatile memory controller backend of the vendor storage
// library on top of a tinyfs.BlockDevice (machine.Flash on hardware, a file or RAM
// image on the host).
type NVMC struct {
	dev  tinyfs.BlockDevice
	opts NVMCOptions
	geo  Geometry

	mu      sync.Mutex
	region  Region
	handler Handler
	inited  bool
	closed  bool
	pending int

	ops    chan op
	events *kernel.Dispatcher[Event]
	wg     sync.WaitGroup
}

// NewNVMC wraps dev. The worker and event goroutines start with Init.
func NewNVMC(dev tinyfs.BlockDevice, opts NVMCOptions) *NVMC {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ProgramUnit == 0 {
		opts.ProgramUnit = defaultProgramUnit
	}
	size := dev.Size()
	if size > int64(^uint32(0)) {
		size = int64(^uint32(0))
	}
	eu := dev.EraseBlockSize()
	if eu < 0 {
		eu = 0
	}
	return &NVMC{
		dev:  dev,
		opts: opts,
		geo: Geometry{
			Size:        uint32(size),
			EraseUnit:   uint32(eu),
			ProgramUnit: opts.ProgramUnit,
		},
	}
}

func (n *NVMC) Geometry() Geometry { return n.geo }

func (n *NVMC) Init(r Region, h Handler) Result {
	if h == nil {
		return Null
	}
	if r.End <= r.Start || r.End > n.geo.Size {
		return InvalidAddr
	}
	if n.geo.EraseUnit == 0 || r.Start%n.geo.EraseUnit != 0 || r.End%n.geo.EraseUnit != 0 {
		return InvalidAddr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inited || n.closed {
		return InvalidState
	}
	n.region = r
	n.handler = h
	n.inited = true
	n.ops = make(chan op, n.opts.QueueSize)
	n.events = kernel.NewDispatcher[Event](n.opts.QueueSize+1, n.deliver)
	n.wg.Add(1)
	go n.worker()
	return Success
}

// IsBusy reports whether any operation is queued, executing, or waiting for its
// event handler to return.
func (n *NVMC) IsBusy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending > 0
}

func (n *NVMC) Erase(addr, pages uint32, param any) Result {
	if pages == 0 {
		return InvalidLength
	}
	eu := n.geo.EraseUnit
	if eu == 0 || addr%eu != 0 {
		return InvalidAddr
	}
	if res := n.checkRange(addr, pages*eu); res != Success {
		return res
	}
	return n.enqueue(op{kind: opErase, addr: addr, pages: pages, param: param})
}

func (n *NVMC) Write(addr uint32, data []byte, param any) Result {
	if data == nil {
		return Null
	}
	pu := n.geo.ProgramUnit
	if len(data) == 0 || uint32(len(data))%pu != 0 {
		return InvalidLength
	}
	if addr%pu != 0 {
		return InvalidAddr
	}
	if res := n.checkRange(addr, uint32(len(data))); res != Success {
		return res
	}
	return n.enqueue(op{kind: opWrite, addr: addr, data: data, param: param})
}

func (n *NVMC) Read(addr uint32, p []byte) Result {
	if p == nil {
		return Null
	}
	if res := n.checkRange(addr, uint32(len(p))); res != Success {
		return res
	}
	if _, err := n.dev.ReadAt(p, int64(addr)); err != nil {
		return Internal
	}
	return Success
}

// Uninit delivers the outstanding events, then stops the worker and event
// goroutines. Init may be called again afterwards.
func (n *NVMC) Uninit() Result {
	n.mu.Lock()
	if !n.inited {
		n.mu.Unlock()
		return InvalidState
	}
	n.inited = false
	ops, events := n.ops, n.events
	n.mu.Unlock()

	close(ops)
	n.wg.Wait()
	events.Stop()

	n.mu.Lock()
	n.handler = nil
	n.ops, n.events = nil, nil
	n.mu.Unlock()
	return Success
}

// Close uninitializes the instance and rejects any further Init.
func (n *NVMC) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	inited := n.inited
	n.mu.Unlock()

	if inited {
		n.Uninit()
	}
	return nil
}

func (n *NVMC) checkRange(addr, size uint32) Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.inited || n.closed {
		return InvalidState
	}
	if !n.region.Contains(addr) || size > n.region.End-addr {
		return InvalidAddr
	}
	return Success
}

func (n *NVMC) enqueue(o op) Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.inited {
		return InvalidState
	}
	if n.pending >= n.opts.QueueSize {
		return NoMem
	}
	n.pending++
	n.ops <- o
	return Success
}

func (n *NVMC) worker() {
	defer n.wg.Done()
	n.mu.Lock()
	ops := n.ops
	n.mu.Unlock()
	for o := range ops {
		evt := Event{Addr: o.addr, Param: o.param}
		switch o.kind {
		case opWrite:
			if n.opts.WriteLatency > 0 {
				time.Sleep(n.opts.WriteLatency)
			}
			evt.ID = EventWriteResult
			evt.Len = uint32(len(o.data))
			evt.Result = n.program(o.addr, o.data)
		case opErase:
			if n.opts.EraseLatency > 0 {
				time.Sleep(n.opts.EraseLatency)
			}
			evt.ID = EventEraseResult
			evt.Len = o.pages * n.geo.EraseUnit
			evt.Result = n.erase(o.addr, o.pages)
		}
		n.mu.Lock()
		events := n.events
		n.mu.Unlock()
		if !events.Post(evt) {
			n.done()
		}
	}
}

// program applies NOR semantics: bits can only go from 1 to 0.
func (n *NVMC) program(addr uint32, data []byte) Result {
	cur := make([]byte, len(data))
	if _, err := n.dev.ReadAt(cur, int64(addr)); err != nil {
		return Internal
	}
	for i := range cur {
		cur[i] &= data[i]
	}
	if _, err := n.dev.WriteAt(cur, int64(addr)); err != nil {
		return Internal
	}
	return Success
}

func (n *NVMC) erase(addr, pages uint32) Result {
	block := int64(addr / n.geo.EraseUnit)
	if err := n.dev.EraseBlocks(block, int64(pages)); err != nil {
		return Internal
	}
	return Success
}

func (n *NVMC) deliver(evt Event) {
	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()
	if h != nil {
		h(evt)
	}
	n.done()
}

func (n *NVMC) done() {
	n.mu.Lock()
	n.pending--
	n.mu.Unlock()
}
