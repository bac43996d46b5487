//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

const (
	hostFlashDefaultPath      = "nrfhal.flash"
	hostFlashDefaultSizeBytes = 512 * 1024
	hostFlashEraseBlockBytes  = 4096
	hostFlashWriteBlockBytes  = 4
)

var (
	ErrFlashWriteRequiresErase = errors.New("flash write requires erase")
	ErrFlashLocked             = errors.New("flash image locked by another process")
)

// fileFlash is a tinyfs.BlockDevice over an image file. Programming can only clear
// bits; EraseBlocks sets a whole block back to 0xFF. The image is held under an
// exclusive lock for the lifetime of the device.
type fileFlash struct {
	mu       sync.Mutex
	f        *os.File
	lock     *flock.Flock
	size     uint32
	scratch4 [hostFlashEraseBlockBytes]byte
}

func openFileFlash(path string, size uint32) (*fileFlash, error) {
	if size == 0 || size%hostFlashEraseBlockBytes != 0 {
		return nil, fmt.Errorf("flash image %s: size %d is not a multiple of %d", path, size, hostFlashEraseBlockBytes)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("flash image %s: lock: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("flash image %s: %w", path, ErrFlashLocked)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	ff := &fileFlash{f: f, lock: lock, size: size}
	for i := range ff.scratch4 {
		ff.scratch4[i] = 0xFF
	}

	st, err := f.Stat()
	if err != nil {
		ff.Close()
		return nil, err
	}
	switch {
	case st.Size() == 0:
		if err := ff.fill(0, size); err != nil {
			ff.Close()
			return nil, err
		}
	case st.Size() > int64(^uint32(0)) || st.Size()%hostFlashEraseBlockBytes != 0:
		ff.Close()
		return nil, fmt.Errorf("flash image %s: bad size %d", path, st.Size())
	default:
		ff.size = uint32(st.Size())
	}
	return ff, nil
}

func (f *fileFlash) fill(off, size uint32) error {
	for size > 0 {
		if _, err := f.f.WriteAt(f.scratch4[:], int64(off)); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
		off += hostFlashEraseBlockBytes
		size -= hostFlashEraseBlockBytes
	}
	return nil
}

func (f *fileFlash) Size() int64           { return int64(f.size) }
func (f *fileFlash) WriteBlockSize() int64 { return hostFlashWriteBlockBytes }
func (f *fileFlash) EraseBlockSize() int64 { return hostFlashEraseBlockBytes }

func (f *fileFlash) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, os.ErrClosed
	}
	if off < 0 || off >= int64(f.size) {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	if maxN := int64(f.size) - off; int64(len(p)) > maxN {
		p = p[:maxN]
	}
	return f.f.ReadAt(p, off)
}

func (f *fileFlash) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, os.ErrClosed
	}
	if off < 0 || off+int64(len(p)) > int64(f.size) {
		return 0, fmt.Errorf("flash write at %d: %w", off, os.ErrInvalid)
	}

	buf := make([]byte, len(p))
	if _, err := f.f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if buf[i]&p[i] != p[i] {
			return 0, fmt.Errorf("flash write at %d: %w", off+int64(i), ErrFlashWriteRequiresErase)
		}
	}
	return f.f.WriteAt(p, off)
}

func (f *fileFlash) EraseBlocks(start, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return os.ErrClosed
	}
	if n == 0 {
		return nil
	}
	blocks := int64(f.size / hostFlashEraseBlockBytes)
	if start < 0 || n < 0 || start+n > blocks {
		return fmt.Errorf("flash erase blocks %d+%d: %w", start, n, os.ErrInvalid)
	}
	return f.fill(uint32(start*hostFlashEraseBlockBytes), uint32(n*hostFlashEraseBlockBytes))
}

// Close releases the image and its lock.
func (f *fileFlash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.f != nil {
		err = f.f.Close()
		f.f = nil
	}
	if f.lock != nil {
		if uerr := f.lock.Unlock(); err == nil {
			err = uerr
		}
		f.lock = nil
	}
	return err
}
