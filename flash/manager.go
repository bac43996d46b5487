package flash

import (
	"fmt"
	"runtime"
	"sync"

	"nrfhal/fstorage"
	"nrfhal/kernel"
)

type initState uint8

const (
	stateUninitialized initState = iota
	stateReady
	stateFailed
)

// Manager owns the storage primitive, the flash region and the pending-write queue
// shared by every logical device opened on it.
//
// The primitive is initialized once, by the first Device.Init; later calls report
// the same outcome. Teardown returns the manager to the uninitialized state so a test
// can initialize it again.
type Manager struct {
	storage fstorage.Storage
	opts    Options
	geo     fstorage.Geometry
	region  fstorage.Region
	queue   *writeQueue

	mu      sync.Mutex
	state   initState
	initErr error
	devices []*Device
	changed chan struct{}
}

// NewManager prepares a manager for s. It does not touch the primitive.
func NewManager(s fstorage.Storage, opts Options) *Manager {
	opts = opts.withDefaults()
	geo := s.Geometry()
	if geo.ProgramUnit == 0 {
		geo.ProgramUnit = WordSize
	}
	region := fstorage.Region{Start: 0, End: geo.Size}
	if opts.Region != nil {
		region = *opts.Region
	}
	return &Manager{
		storage: s,
		opts:    opts,
		geo:     geo,
		region:  region,
		queue:   newWriteQueue(opts.QueueCapacity),
		changed: make(chan struct{}),
	}
}

// NewDevice returns a logical device bound to the manager. Call Init before use.
func (m *Manager) NewDevice() *Device {
	d := &Device{m: m}
	m.mu.Lock()
	m.devices = append(m.devices, d)
	m.mu.Unlock()
	return d
}

// Region returns the managed flash range.
func (m *Manager) Region() fstorage.Region { return m.region }

// Geometry returns the device geometry reported by the primitive.
func (m *Manager) Geometry() fstorage.Geometry { return m.geo }

// Ready reports whether the primitive has been initialized successfully.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateReady
}

func (m *Manager) init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateReady:
		return nil
	case stateFailed:
		return m.initErr
	}

	res := m.storage.Init(m.region, m.handleEvent)
	if res != fstorage.Success {
		m.state = stateFailed
		m.initErr = fmt.Errorf("flash: init [0x%08x, 0x%08x): %w: %s", m.region.Start, m.region.End, ErrStorage, res)
		m.logf("%v", m.initErr)
		return m.initErr
	}
	m.state = stateReady
	m.logf("flash: ready: %d bytes at 0x%08x, sector %d, page %d", m.region.Size(), m.region.Start, m.geo.EraseUnit, m.geo.ProgramUnit)
	return nil
}

// Teardown drops every queued request, waits for the primitive to deliver its
// outstanding events, stops retry timers and marks the manager uninitialized.
//
// Devices must not be used concurrently with Teardown.
func (m *Manager) Teardown() {
	m.mu.Lock()
	was := m.state
	m.state = stateUninitialized
	m.initErr = nil
	devices := append([]*Device(nil), m.devices...)
	m.mu.Unlock()

	m.resetQueue()
	if was == stateReady {
		m.storage.Uninit()
	}
	for _, d := range devices {
		d.stopRetry()
	}
	m.notify()
}

// resetQueue empties the shared queue and releases the buffers it held.
func (m *Manager) resetQueue() {
	dropped := m.queue.reset()
	for _, req := range dropped {
		m.opts.Allocator.Free(req.buf)
	}
	if len(dropped) > 0 {
		m.logf("flash: reset dropped %d queued writes", len(dropped))
	}
	m.notify()
}

// issueWrite hands one request to the primitive, reissuing it while the primitive
// reports no memory and the timeout has not elapsed.
func (m *Manager) issueWrite(req request, d *Device) fstorage.Result {
	clock := m.opts.Clock
	start := clock.Micros()
	for {
		res := m.storage.Write(req.addr, req.buf, d)
		now := clock.Micros()
		if !res.Transient() || kernel.Elapsed(start, now) >= m.opts.Timeout {
			return res
		}
		runtime.Gosched()
	}
}

func (m *Manager) handleEvent(evt fstorage.Event) {
	d, ok := evt.Param.(*Device)
	if ok && d != nil && d.m == m {
		switch evt.ID {
		case fstorage.EventWriteResult:
			d.onWriteComplete(evt)
		case fstorage.EventEraseResult:
			d.onEraseComplete(evt)
		}
	}
	m.notify()
}

// notify wakes every Sync waiter.
func (m *Manager) notify() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

func (m *Manager) changedChan() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

func (m *Manager) logf(format string, args ...any) {
	if m.opts.Logger == nil {
		return
	}
	m.opts.Logger.WriteLineString(fmt.Sprintf(format, args...))
}

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Configure installs the process-wide manager for s, tearing down the previous one.
func Configure(s fstorage.Storage, opts Options) *Manager {
	m := NewManager(s, opts)
	defaultMu.Lock()
	old := defaultManager
	defaultManager = m
	defaultMu.Unlock()
	if old != nil {
		old.Teardown()
	}
	return m
}

// Default returns the process-wide manager, or nil before Configure.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// Open creates and initializes a device on the process-wide manager.
func Open() (*Device, error) {
	m := Default()
	if m == nil {
		return nil, ErrNotInitialized
	}
	d := m.NewDevice()
	if err := d.Init(); err != nil {
		return d, err
	}
	return d, nil
}
