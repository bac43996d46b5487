// Package hal is the platform layer under the flash sequencer: the raw flash device,
// the storage primitive driving it, a timebase, the board pin table and a few
// user-facing outputs.
package hal

import (
	"errors"

	"tinygo.org/x/tinyfs"

	"nrfhal/board"
	"nrfhal/fstorage"
	"nrfhal/kernel"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// LED is a minimal output pin abstraction.
type LED interface {
	High()
	Low()
}

// Status shows a handful of short lines to the user.
type Status interface {
	Show(lines ...string) error
}

var ErrNotImplemented = errors.New("not implemented")

// HAL provides the only contact point between the flash layer and the outside world.
type HAL interface {
	Logger() Logger
	LED() LED
	// Flash is the raw block device. Writes bypass the storage primitive.
	Flash() tinyfs.BlockDevice
	Storage() fstorage.Storage
	Clock() kernel.Clock
	Board() *board.Board
	Status() Status
}
