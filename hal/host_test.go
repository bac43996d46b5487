//go:build !tinygo

package hal

import (
	"bytes"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrfhal/board"
)

func TestFileFlashNORSemantics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.flash")
	ff, err := openFileFlash(path, 2*hostFlashEraseBlockBytes)
	require.NoError(t, err)
	defer ff.Close()

	assert.EqualValues(t, 2*hostFlashEraseBlockBytes, ff.Size())
	assert.EqualValues(t, hostFlashEraseBlockBytes, ff.EraseBlockSize())
	assert.EqualValues(t, hostFlashWriteBlockBytes, ff.WriteBlockSize())

	buf := make([]byte, 8)
	_, err = ff.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 8), buf)

	_, err = ff.WriteAt([]byte{0xF0, 0x0F, 0x00, 0xFF}, 0)
	require.NoError(t, err)
	_, err = ff.WriteAt([]byte{0x00, 0x00, 0x00, 0x0F}, 0)
	require.NoError(t, err)
	_, err = ff.WriteAt([]byte{0xFF}, 0)
	assert.ErrorIs(t, err, ErrFlashWriteRequiresErase)

	require.NoError(t, ff.EraseBlocks(0, 1))
	_, err = ff.ReadAt(buf[:4], 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf[:4])

	assert.Error(t, ff.EraseBlocks(1, 2))
	_, err = ff.WriteAt(make([]byte, 8), int64(ff.Size())-4)
	assert.Error(t, err)
}

func TestFileFlashPersistsAndLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.flash")
	ff, err := openFileFlash(path, hostFlashEraseBlockBytes)
	require.NoError(t, err)

	_, err = openFileFlash(path, hostFlashEraseBlockBytes)
	assert.ErrorIs(t, err, ErrFlashLocked)

	_, err = ff.WriteAt([]byte{1, 2, 3, 4}, 16)
	require.NoError(t, err)
	require.NoError(t, ff.Close())

	// The existing image keeps its size regardless of the requested one.
	ff, err = openFileFlash(path, 4*hostFlashEraseBlockBytes)
	require.NoError(t, err)
	defer ff.Close()
	assert.EqualValues(t, hostFlashEraseBlockBytes, ff.Size())
	buf := make([]byte, 4)
	_, err = ff.ReadAt(buf, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestFileFlashRejectsBadSize(t *testing.T) {
	_, err := openFileFlash(filepath.Join(t.TempDir(), "img.flash"), 1000)
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("512KB")
	require.NoError(t, err)
	assert.EqualValues(t, 512*1024, n)

	n, err = ParseSize("1MB")
	require.NoError(t, err)
	assert.EqualValues(t, 1024*1024, n)

	_, err = ParseSize("lots")
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NRFHAL_FLASH_PATH", "/tmp/x.flash")
	t.Setenv("NRFHAL_FLASH_SIZE", "64KB")
	t.Setenv("NRFHAL_BOARD", "nrf52_dk")
	t.Setenv("NRFHAL_SERIAL", "")
	t.Setenv("NRFHAL_LATENCY_US", "20")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.flash", cfg.FlashPath)
	assert.EqualValues(t, 64*1024, cfg.FlashSize)
	assert.Equal(t, "nrf52_dk", cfg.Board)
	assert.Empty(t, cfg.Serial)
	assert.EqualValues(t, 20000, cfg.WriteLatency.Nanoseconds())

	t.Setenv("NRFHAL_FLASH_SIZE", "huge")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}

func TestNewWithConfigMemory(t *testing.T) {
	var out bytes.Buffer
	h, err := NewWithConfig(Config{FlashSize: 16 * 1024, Output: &out})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, board.DefaultVariant, h.Board().Name)
	assert.EqualValues(t, 16*1024, h.Flash().Size())
	geo := h.Storage().Geometry()
	assert.EqualValues(t, 16*1024, geo.Size)
	assert.EqualValues(t, hostFlashEraseBlockBytes, geo.EraseUnit)

	buf := make([]byte, 4)
	_, err = h.Flash().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)

	h.LED().High()
	assert.True(t, h.led.On())
	h.LED().Low()
	require.NoError(t, h.Status().Show("boot 3"))

	log := out.String()
	assert.Contains(t, log, "led: HIGH\n")
	assert.Contains(t, log, "led: LOW\n")
	assert.Contains(t, log, "status: boot 3\n")
	require.NoError(t, h.Close())
}

func TestNewWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.flash")
	h, err := NewWithConfig(Config{FlashPath: path, FlashSize: 8 * 1024, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	_, err = NewWithConfig(Config{FlashPath: path, Output: &bytes.Buffer{}})
	assert.ErrorIs(t, err, ErrFlashLocked)

	require.NoError(t, h.Close())
	h, err = NewWithConfig(Config{FlashPath: path, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.EqualValues(t, 8*1024, h.Flash().Size())
	require.NoError(t, h.Close())
}

func TestNewWithConfigErrors(t *testing.T) {
	_, err := NewWithConfig(Config{Board: "nope", Output: &bytes.Buffer{}})
	assert.ErrorIs(t, err, board.ErrUnknownBoard)

	_, err = NewWithConfig(Config{FlashSize: 1000, Output: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestLineLoggerCRLF(t *testing.T) {
	var out bytes.Buffer
	l := &lineLogger{w: &out, eol: []byte("\r\n")}
	l.WriteLineString("a")
	l.WriteLineBytes([]byte("b"))
	assert.Equal(t, "a\r\nb\r\n", out.String())
}

func TestScreenStatusRenders(t *testing.T) {
	var frames [][]byte
	s := newScreenStatus(128, 64, func(buf []byte) error {
		frames = append(frames, append([]byte(nil), buf...))
		return nil
	})
	require.NoError(t, s.Show("boots: 12", strings.Repeat("x", 40)))
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 128*64/8)

	lit := 0
	for y := int16(0); y < 64; y++ {
		for x := int16(0); x < 128; x++ {
			if s.fb.pixel(x, y) {
				lit++
			}
		}
	}
	assert.Positive(t, lit)

	require.NoError(t, s.Show())
	assert.Equal(t, make([]byte, 128*64/8), frames[1])
}

func TestMonoBufferPageLayout(t *testing.T) {
	b := newMonoBuffer(16, 16)
	b.SetPixel(3, 9, statusFG)
	assert.Equal(t, byte(1<<1), b.buf[16+3])
	assert.True(t, b.pixel(3, 9))

	b.SetPixel(3, 9, color.RGBA{})
	assert.False(t, b.pixel(3, 9))

	b.SetPixel(-1, 0, statusFG)
	b.SetPixel(0, 16, statusFG)
	assert.Equal(t, make([]byte, 32), b.buf)
}

func TestNewFallsBackToMemory(t *testing.T) {
	t.Setenv("NRFHAL_FLASH_PATH", "")
	t.Setenv("NRFHAL_FLASH_SIZE", "not a size")
	t.Setenv("NRFHAL_BOARD", "")
	t.Setenv("NRFHAL_SERIAL", "")
	t.Setenv("NRFHAL_LATENCY_US", "")

	h, ok := New().(*Host)
	require.True(t, ok)
	defer h.Close()
	assert.EqualValues(t, hostFlashDefaultSizeBytes, h.Flash().Size())
}
