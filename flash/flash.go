// Package flash implements the portable OS flash contract (init, erase sector,
// program page, geometry queries) on top of an fstorage primitive.
//
// Programming is asynchronous: ProgramPage copies the caller's data into a queued
// write request and returns. Requests are issued to the primitive one at a time per
// device; each completion event releases the finished buffer and starts the next
// queued request. Erase is synchronous and retries while the primitive is busy.
package flash

import (
	"errors"
	"fmt"
	"time"

	"nrfhal/fstorage"
	"nrfhal/kernel"
)

const (
	// DefaultQueueCapacity is the number of pending write requests.
	DefaultQueueCapacity = 20
	// DefaultTimeout bounds busy retries. The datasheet maximum for a page erase is 89.7 ms.
	DefaultTimeout = 200 * time.Millisecond
	// DefaultRetryInterval is the delay before a failed write start is attempted again.
	DefaultRetryInterval = 10 * time.Millisecond

	// WordSize is the minimum programmable unit in bytes.
	WordSize = 4
	// EraseValue is the content of erased flash.
	EraseValue = fstorage.ErasedValue
	// InvalidSize is returned by SectorSize for addresses outside the flash region.
	InvalidSize = 0xFFFFFFFF
)

var (
	ErrInvalidArgument   = errors.New("flash: invalid argument")
	ErrResourceExhausted = errors.New("flash: resource exhausted")
	ErrBusyTimeout       = errors.New("flash: busy timeout")
	ErrStorage           = errors.New("flash: storage error")
	ErrNotInitialized    = errors.New("flash: not initialized")
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
}

// Options configures a Manager. The zero value selects the defaults.
type Options struct {
	// QueueCapacity bounds the pending-write queue shared by all devices.
	QueueCapacity int
	// Timeout bounds erase and write-start retries against a busy primitive.
	Timeout time.Duration
	// RetryInterval re-attempts a failed write start. Negative disables the timer.
	RetryInterval time.Duration
	// Region restricts the managed range. Nil manages the whole device.
	Region *fstorage.Region

	Clock     kernel.Clock
	Allocator Allocator
	Logger    Logger
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Clock == nil {
		o.Clock = kernel.NewMonotonic()
	}
	if o.Allocator == nil {
		o.Allocator = &HeapAllocator{}
	}
	return o
}

// Status converts an error to the portable OS return convention: 0 on success, -1
// on failure.
func Status(err error) int32 {
	if err != nil {
		return -1
	}
	return 0
}

func storageError(op string, addr uint32, res fstorage.Result) error {
	if res.Transient() {
		return fmt.Errorf("flash: %s at 0x%08x: %w", op, addr, ErrBusyTimeout)
	}
	return fmt.Errorf("flash: %s at 0x%08x: %w: %s", op, addr, ErrStorage, res)
}
