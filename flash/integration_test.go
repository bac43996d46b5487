package flash

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"tinygo.org/x/tinyfs"

	"nrfhal/fstorage"
)

func newNVMCManager(t *testing.T, opts Options) (*Manager, *fstorage.NVMC) {
	t.Helper()
	nvmc := fstorage.NewNVMC(tinyfs.NewMemoryDevice(4, testEraseUnit, 8), fstorage.NVMCOptions{
		QueueSize:    2,
		WriteLatency: 50 * time.Microsecond,
		EraseLatency: time.Millisecond,
	})
	m := NewManager(nvmc, opts)
	t.Cleanup(func() {
		m.Teardown()
		nvmc.Close()
	})
	return m, nvmc
}

// programAll queues data in chunks, waiting for the queue to drain whenever it fills.
func programAll(ctx context.Context, d *Device, addr uint32, data []byte, chunk int) error {
	for off := 0; off < len(data); {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		err := d.ProgramPage(addr+uint32(off), data[off:end])
		if errors.Is(err, ErrResourceExhausted) {
			if err := d.Sync(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		off = end
	}
	return d.Sync(ctx)
}

func TestNVMCProgramAndReadBack(t *testing.T) {
	m, _ := newNVMCManager(t, Options{})
	d := m.NewDevice()
	mustInit(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for addr := uint32(0); addr < 2*testEraseUnit; addr += d.SectorSize(addr) {
		if err := d.EraseSector(addr); err != nil {
			t.Fatalf("EraseSector(0x%x) error = %v", addr, err)
		}
	}

	want := make([]byte, 2*testEraseUnit)
	for i := range want {
		want[i] = byte(i*7 + 3)
	}
	if err := programAll(ctx, d, 0, want, 64); err != nil {
		t.Fatalf("programAll() error = %v", err)
	}

	got := make([]byte, len(want))
	if err := d.Read(0, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back differs from programmed data")
	}
}

func TestNVMCUnalignedTailIsPadded(t *testing.T) {
	m, _ := newNVMCManager(t, Options{})
	d := m.NewDevice()
	mustInit(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	if err := d.ProgramPage(0, []byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("ProgramPage() error = %v", err)
	}
	if err := d.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	got := make([]byte, 12)
	if err := d.Read(0, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read() = % x, want % x", got, want)
	}
}

func TestNVMCDevicesShareQueue(t *testing.T) {
	m, _ := newNVMCManager(t, Options{})
	a, b := m.NewDevice(), m.NewDevice()
	mustInit(t, a)
	mustInit(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	for i := uint32(0); i < 8; i++ {
		d := a
		if i%2 == 1 {
			d = b
		}
		if err := d.ProgramPage(i*4, []byte{byte(i), byte(i), byte(i), byte(i)}); err != nil {
			t.Fatalf("ProgramPage(%d) error = %v", i, err)
		}
	}
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("a.Sync() error = %v", err)
	}
	if err := b.Sync(ctx); err != nil {
		t.Fatalf("b.Sync() error = %v", err)
	}

	got := make([]byte, 32)
	if err := a.Read(0, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	for i := 0; i < 32; i++ {
		if got[i] != byte(i/4) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i/4)
		}
	}
}
