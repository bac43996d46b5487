package flash

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"nrfhal/fstorage"
	"nrfhal/kernel"
)

// Device is one logical flash device. Several devices may share a Manager; they share
// its write queue but each tracks its own in-flight write.
//
// A device is Idle when current is nil and Writing while one buffer is owned by the
// primitive. current only changes with mu held, which excludes the event context.
type Device struct {
	m *Manager

	mu       sync.Mutex
	current  []byte
	retry    kernel.Timer
	asyncErr error
}

// Init initializes the primitive on first use, clears the device state and
// empties the shared write queue. Requests still queued by any device are dropped.
// A write already issued to the primitive stays in flight; its completion releases
// the buffer.
func (d *Device) Init() error {
	err := d.m.init()

	d.mu.Lock()
	d.asyncErr = nil
	d.stopRetryLocked()
	d.mu.Unlock()

	d.m.resetQueue()
	return err
}

// Free releases the device. There is nothing to release.
func (d *Device) Free() error { return nil }

// EraseSector erases the sector starting at addr. It retries while the primitive is
// busy and gives up with ErrBusyTimeout once the timeout has elapsed.
func (d *Device) EraseSector(addr uint32) error {
	m := d.m
	if !m.Ready() {
		return ErrNotInitialized
	}

	clock := m.opts.Clock
	start := clock.Micros()
	now := start
	res := fstorage.NoMem
	for kernel.Elapsed(start, now) < m.opts.Timeout && res == fstorage.NoMem {
		res = m.storage.Erase(addr, 1, d)
		now = clock.Micros()
		if res == fstorage.NoMem {
			runtime.Gosched()
		}
	}
	if res != fstorage.Success {
		m.logf("flash: erase 0x%08x failed after %v: %s", addr, kernel.Elapsed(start, now), res)
		return storageError("erase", addr, res)
	}
	return nil
}

// ProgramPage queues data for programming at addr and returns without waiting for
// the write. The length is rounded up to the page size; the pad is filled with
// EraseValue so it leaves the neighbouring cells untouched.
func (d *Device) ProgramPage(addr uint32, data []byte) error {
	m := d.m
	if len(data) == 0 {
		return fmt.Errorf("%w: no data", ErrInvalidArgument)
	}
	if !m.Ready() {
		return ErrNotInitialized
	}

	page := m.geo.ProgramUnit
	region := m.region
	if addr%page != 0 || !region.Contains(addr) || uint64(len(data)) > uint64(region.End-addr) {
		return fmt.Errorf("%w: program %d bytes at 0x%08x outside [0x%08x, 0x%08x)", ErrInvalidArgument, len(data), addr, region.Start, region.End)
	}
	size := AlignUp(uint32(len(data)), page)
	if size > region.End-addr {
		return fmt.Errorf("%w: program %d bytes at 0x%08x outside [0x%08x, 0x%08x)", ErrInvalidArgument, size, addr, region.Start, region.End)
	}

	buf := m.opts.Allocator.Alloc(int(size))
	if buf == nil {
		return fmt.Errorf("%w: allocate %d byte write buffer", ErrResourceExhausted, size)
	}
	n := copy(buf, data)
	for i := n; i < len(buf); i++ {
		buf[i] = EraseValue
	}

	if !m.queue.push(request{buf: buf, addr: addr, size: size}) {
		m.opts.Allocator.Free(buf)
		return fmt.Errorf("%w: write queue full (%d)", ErrResourceExhausted, m.queue.cap())
	}

	if !m.storage.IsBusy() {
		d.kick()
	} else {
		d.wait()
	}
	return nil
}

// Read copies flash content at addr into p.
func (d *Device) Read(addr uint32, p []byte) error {
	if !d.m.Ready() {
		return ErrNotInitialized
	}
	if res := d.m.storage.Read(addr, p); res != fstorage.Success {
		return storageError("read", addr, res)
	}
	return nil
}

// Sync waits until the shared queue is empty and the device has no write in flight.
// It returns the first asynchronous write or erase failure reported since the last
// Sync, or the context error.
func (d *Device) Sync(ctx context.Context) error {
	for {
		ch := d.m.changedChan()
		if d.m.queue.len() == 0 {
			d.mu.Lock()
			idle := d.current == nil
			err := d.asyncErr
			if idle {
				d.asyncErr = nil
			}
			d.mu.Unlock()
			if idle {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Pending returns the number of queued write requests on the shared queue.
func (d *Device) Pending() int { return d.m.queue.len() }

// Busy reports whether the device has a write in flight.
func (d *Device) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

// Size returns the size of the flash region in bytes.
func (d *Device) Size() uint32 { return d.m.region.Size() }

// SectorSize returns the erase unit at addr, or InvalidSize outside the region.
func (d *Device) SectorSize(addr uint32) uint32 {
	if !d.m.region.Contains(addr) {
		return InvalidSize
	}
	return d.m.geo.EraseUnit
}

// PageSize returns the minimum programmable unit.
func (d *Device) PageSize() uint32 { return d.m.geo.ProgramUnit }

// StartAddress returns the first address of the flash region.
func (d *Device) StartAddress() uint32 { return d.m.region.Start }

// EraseValue returns the content of erased flash.
func (d *Device) EraseValue() byte { return EraseValue }
