package flash

import (
	"sync"
	"time"

	"nrfhal/fstorage"
	"nrfhal/kernel"
)

const (
	testSize      = 64 * 1024
	testEraseUnit = 4096
)

type fakeWrite struct {
	addr  uint32
	data  []byte
	param any
}

// fakeStorage is a scripted primitive. Accepted operations stay in flight until the
// test completes them, so the test plays the event context.
type fakeStorage struct {
	mu sync.Mutex

	geo        fstorage.Geometry
	handler    fstorage.Handler
	initCalls  int
	initResult fstorage.Result
	busy       bool

	writeScript  []fstorage.Result
	writeDefault fstorage.Result
	eraseScript  []fstorage.Result
	eraseDefault fstorage.Result

	writeCalls int
	eraseCalls int
	writes     []fakeWrite
	erases     []uint32
	inflight   []fstorage.Event
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		geo: fstorage.Geometry{Size: testSize, EraseUnit: testEraseUnit, ProgramUnit: WordSize},
	}
}

func (f *fakeStorage) Geometry() fstorage.Geometry { return f.geo }

func (f *fakeStorage) Init(r fstorage.Region, h fstorage.Handler) fstorage.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initResult != fstorage.Success {
		return f.initResult
	}
	f.handler = h
	return fstorage.Success
}

func (f *fakeStorage) Uninit() fstorage.Result {
	for f.complete(fstorage.Success) {
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	return fstorage.Success
}

func (f *fakeStorage) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy || len(f.inflight) > 0
}

func (f *fakeStorage) setBusy(busy bool) {
	f.mu.Lock()
	f.busy = busy
	f.mu.Unlock()
}

func (f *fakeStorage) scriptWrites(def fstorage.Result, next ...fstorage.Result) {
	f.mu.Lock()
	f.writeDefault = def
	f.writeScript = append([]fstorage.Result(nil), next...)
	f.mu.Unlock()
}

func (f *fakeStorage) scriptErases(def fstorage.Result, next ...fstorage.Result) {
	f.mu.Lock()
	f.eraseDefault = def
	f.eraseScript = append([]fstorage.Result(nil), next...)
	f.mu.Unlock()
}

func (f *fakeStorage) Erase(addr, pages uint32, param any) fstorage.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eraseCalls++
	res := f.eraseDefault
	if len(f.eraseScript) > 0 {
		res, f.eraseScript = f.eraseScript[0], f.eraseScript[1:]
	}
	if res == fstorage.Success {
		f.erases = append(f.erases, addr)
		f.inflight = append(f.inflight, fstorage.Event{ID: fstorage.EventEraseResult, Addr: addr, Len: pages * f.geo.EraseUnit, Param: param})
	}
	return res
}

func (f *fakeStorage) Write(addr uint32, data []byte, param any) fstorage.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	res := f.writeDefault
	if len(f.writeScript) > 0 {
		res, f.writeScript = f.writeScript[0], f.writeScript[1:]
	}
	if res == fstorage.Success {
		f.writes = append(f.writes, fakeWrite{addr: addr, data: append([]byte(nil), data...), param: param})
		f.inflight = append(f.inflight, fstorage.Event{ID: fstorage.EventWriteResult, Addr: addr, Len: uint32(len(data)), Param: param})
	}
	return res
}

func (f *fakeStorage) Read(addr uint32, p []byte) fstorage.Result {
	for i := range p {
		p[i] = EraseValue
	}
	return fstorage.Success
}

// complete delivers the oldest in-flight event with result res. It reports false when
// nothing is in flight.
func (f *fakeStorage) complete(res fstorage.Result) bool {
	f.mu.Lock()
	if len(f.inflight) == 0 {
		f.mu.Unlock()
		return false
	}
	evt := f.inflight[0]
	f.inflight = f.inflight[1:]
	h := f.handler
	f.mu.Unlock()

	evt.Result = res
	if h != nil {
		h(evt)
	}
	return true
}

func (f *fakeStorage) writeLog() []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeWrite(nil), f.writes...)
}

func (f *fakeStorage) inflightCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

type fixture struct {
	storage *fakeStorage
	clock   *kernel.ManualClock
	alloc   *HeapAllocator
	log     *lineLog
	m       *Manager
	dev     *Device
}

func newFixture(opts Options) *fixture {
	fx := &fixture{
		storage: newFakeStorage(),
		clock:   kernel.NewManualClock(time.Microsecond),
		alloc:   &HeapAllocator{},
		log:     &lineLog{},
	}
	if opts.Clock == nil {
		opts.Clock = fx.clock
	}
	if opts.Allocator == nil {
		opts.Allocator = fx.alloc
	}
	opts.Logger = fx.log
	fx.m = NewManager(fx.storage, opts)
	fx.dev = fx.m.NewDevice()
	return fx
}
