package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"

	"nrfhal/flash"
)

const (
	recordSize  = 16
	recordMagic = 0x544F4F42 // "BOOT"
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

var ErrNoSector = errors.New("app: flash region has no usable sector")

// Record is one boot log entry.
//
// Layout, little endian: magic u32, count u32, stamp u32, crc16 u16 over the
// first 12 bytes, 0xFFFF.
type Record struct {
	Count uint32
	Stamp uint32
}

func (r Record) marshal() []byte {
	b := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(b[0:], recordMagic)
	binary.LittleEndian.PutUint32(b[4:], r.Count)
	binary.LittleEndian.PutUint32(b[8:], r.Stamp)
	binary.LittleEndian.PutUint16(b[12:], crc16.Checksum(b[:12], crcTable))
	b[14], b[15] = 0xFF, 0xFF
	return b
}

type slotState uint8

const (
	slotErased slotState = iota
	slotValid
	slotCorrupt
)

func parseRecord(b []byte) (Record, slotState) {
	erased := true
	for _, c := range b {
		if c != flash.EraseValue {
			erased = false
			break
		}
	}
	if erased {
		return Record{}, slotErased
	}
	if binary.LittleEndian.Uint32(b[0:]) != recordMagic ||
		binary.LittleEndian.Uint16(b[12:]) != crc16.Checksum(b[:12], crcTable) {
		return Record{}, slotCorrupt
	}
	return Record{
		Count: binary.LittleEndian.Uint32(b[4:]),
		Stamp: binary.LittleEndian.Uint32(b[8:]),
	}, slotValid
}

// BootLog is an append-only record log in the last sector of a flash device. The
// sector is erased only when every slot is used.
type BootLog struct {
	dev  *flash.Device
	addr uint32
	size uint32
}

// OpenBootLog places the log in the last sector of d.
func OpenBootLog(d *flash.Device) (*BootLog, error) {
	end := d.StartAddress() + d.Size()
	if d.Size() == 0 {
		return nil, ErrNoSector
	}
	size := d.SectorSize(end - 1)
	if size == flash.InvalidSize || size < recordSize || size > d.Size() {
		return nil, ErrNoSector
	}
	return &BootLog{dev: d, addr: end - size, size: size}, nil
}

// Addr returns the start of the log sector.
func (l *BootLog) Addr() uint32 { return l.addr }

// Slots returns the number of records the sector holds.
func (l *BootLog) Slots() int { return int(l.size / recordSize) }

// scan returns the newest valid record, whether one exists, and the first erased
// slot after it (Slots() when the sector is full).
func (l *BootLog) scan() (Record, bool, int, error) {
	buf := make([]byte, l.size)
	if err := l.dev.Read(l.addr, buf); err != nil {
		return Record{}, false, 0, err
	}
	var (
		last  Record
		found bool
		free  = -1
	)
	for i := 0; i < l.Slots(); i++ {
		rec, st := parseRecord(buf[i*recordSize : (i+1)*recordSize])
		switch st {
		case slotValid:
			last, found = rec, true
			free = -1
		case slotCorrupt:
			free = -1
		case slotErased:
			if free < 0 {
				free = i
			}
		}
	}
	if free < 0 {
		free = l.Slots()
	}
	return last, found, free, nil
}

// Last returns the newest valid record.
func (l *BootLog) Last() (Record, bool, error) {
	rec, ok, _, err := l.scan()
	return rec, ok, err
}

// Append writes rec after the newest record, erasing the sector first when full,
// and waits for the write to complete.
func (l *BootLog) Append(ctx context.Context, rec Record) error {
	_, _, free, err := l.scan()
	if err != nil {
		return err
	}
	if free >= l.Slots() {
		if err := l.dev.EraseSector(l.addr); err != nil {
			return fmt.Errorf("app: erase boot log: %w", err)
		}
		free = 0
	}
	addr := l.addr + uint32(free)*recordSize
	if err := l.dev.ProgramPage(addr, rec.marshal()); err != nil {
		return fmt.Errorf("app: write boot record: %w", err)
	}
	return l.dev.Sync(ctx)
}
