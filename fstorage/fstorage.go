// Package fstorage models the vendor flash storage primitive the flash layer sits on:
// non-blocking erase/write requests, a busy flag, and completion events delivered later
// from event context.
package fstorage

// Result is the status code returned by storage requests and carried by events.
type Result uint8

const (
	Success Result = iota
	// NoMem means the operation queue is full. It is transient: retry later.
	NoMem
	Null
	InvalidState
	InvalidAddr
	InvalidLength
	Internal
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NoMem:
		return "no memory"
	case Null:
		return "null buffer"
	case InvalidState:
		return "invalid state"
	case InvalidAddr:
		return "invalid address"
	case InvalidLength:
		return "invalid length"
	case Internal:
		return "internal error"
	default:
		return "unknown"
	}
}

// Transient reports whether the request may succeed if reissued unchanged.
func (r Result) Transient() bool { return r == NoMem }

// EventID identifies the operation an event completes.
type EventID uint8

const (
	EventWriteResult EventID = iota + 1
	EventEraseResult
)

func (id EventID) String() string {
	switch id {
	case EventWriteResult:
		return "write"
	case EventEraseResult:
		return "erase"
	default:
		return "unknown"
	}
}

// Event reports the completion of one operation.
//
// Param is the opaque value passed with the request; the flash layer uses it to find
// the logical device that issued the write.
type Event struct {
	ID     EventID
	Result Result
	Addr   uint32
	Len    uint32
	Param  any
}

// Handler receives completion events from event context.
type Handler func(Event)

// Region is a byte range [Start, End) of the device managed by one instance.
type Region struct {
	Start uint32
	End   uint32
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// Size returns End-Start.
func (r Region) Size() uint32 { return r.End - r.Start }

// Geometry describes the physical device.
type Geometry struct {
	Size        uint32
	EraseUnit   uint32
	ProgramUnit uint32
}

// Storage is the primitive consumed by the flash layer.
//
// Erase and Write only queue the operation; its outcome is reported later through the
// Handler registered with Init, never from inside the Erase or Write call. The data
// slice passed to Write must stay untouched until the matching EventWriteResult has
// been delivered. Uninit waits for outstanding events and allows Init again.
type Storage interface {
	Geometry() Geometry
	Init(r Region, h Handler) Result
	Uninit() Result
	IsBusy() bool
	Erase(addr, pages uint32, param any) Result
	Write(addr uint32, data []byte, param any) Result
	Read(addr uint32, p []byte) Result
}
