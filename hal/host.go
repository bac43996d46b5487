//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/inhies/go-bytesize"
	"tinygo.org/x/tinyfs"

	"nrfhal/board"
	"nrfhal/fstorage"
	"nrfhal/kernel"
)

// Config selects the host backends. The zero value is an in-memory flash of the
// default size on the default board, logging to stdout.
type Config struct {
	// FlashPath is the image file. Empty keeps the flash in memory.
	FlashPath string
	// FlashSize is the size of a new image or of the memory device.
	FlashSize uint32
	// Serial is a serial port to log to instead of stdout.
	Serial string
	// Board names the pin table variant.
	Board string
	// WriteLatency and EraseLatency slow the emulated controller down.
	WriteLatency time.Duration
	EraseLatency time.Duration

	// Output overrides stdout for the logger.
	Output io.Writer
}

// ConfigFromEnv reads NRFHAL_FLASH_PATH, NRFHAL_FLASH_SIZE (for example "512KB"),
// NRFHAL_SERIAL, NRFHAL_BOARD and NRFHAL_LATENCY_US.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		FlashPath: os.Getenv("NRFHAL_FLASH_PATH"),
		Serial:    os.Getenv("NRFHAL_SERIAL"),
		Board:     os.Getenv("NRFHAL_BOARD"),
	}
	if s := os.Getenv("NRFHAL_FLASH_SIZE"); s != "" {
		size, err := ParseSize(s)
		if err != nil {
			return cfg, fmt.Errorf("NRFHAL_FLASH_SIZE: %w", err)
		}
		cfg.FlashSize = size
	}
	if s := os.Getenv("NRFHAL_LATENCY_US"); s != "" {
		us, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("NRFHAL_LATENCY_US: %w", err)
		}
		cfg.WriteLatency = time.Duration(us) * time.Microsecond
		cfg.EraseLatency = 10 * cfg.WriteLatency
	}
	return cfg, nil
}

// ParseSize parses a human readable byte count such as "512KB" or "1MB".
func ParseSize(s string) (uint32, error) {
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, err
	}
	if uint64(b) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("size %s exceeds 4GB", s)
	}
	return uint32(b), nil
}

// Host is the HAL for a development machine.
type Host struct {
	logger  Logger
	led     *hostLED
	flash   tinyfs.BlockDevice
	storage *fstorage.NVMC
	clock   kernel.Clock
	board   *board.Board
	status  Status

	closers []io.Closer
	once    sync.Once
}

// New returns a host HAL configured from the environment. It falls back to the
// in-memory defaults when the environment cannot be honoured.
func New() HAL {
	cfg, err := ConfigFromEnv()
	if err == nil {
		var h HAL
		if h, err = NewWithConfig(cfg); err == nil {
			return h
		}
	}
	h, _ := NewWithConfig(Config{})
	h.Logger().WriteLineString("hal: " + err.Error() + "; using in-memory flash")
	return h
}

// NewWithConfig returns a host HAL. Close releases the image lock and the serial port.
func NewWithConfig(cfg Config) (*Host, error) {
	h := &Host{clock: kernel.NewMonotonic()}

	name := cfg.Board
	if name == "" {
		name = board.DefaultVariant
	}
	b, err := board.Lookup(name)
	if err != nil {
		return nil, err
	}
	h.board = b

	if cfg.Serial != "" {
		l, c, err := openSerialLogger(cfg.Serial)
		if err != nil {
			return nil, err
		}
		h.logger = l
		h.closers = append(h.closers, c)
	} else {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		h.logger = &lineLogger{w: out, eol: []byte{'\n'}}
	}

	size := cfg.FlashSize
	if size == 0 {
		size = hostFlashDefaultSizeBytes
	}
	if cfg.FlashPath != "" {
		ff, err := openFileFlash(cfg.FlashPath, size)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.flash = ff
		h.closers = append(h.closers, ff)
	} else {
		if size%hostFlashEraseBlockBytes != 0 {
			h.Close()
			return nil, fmt.Errorf("flash size %d is not a multiple of %d", size, hostFlashEraseBlockBytes)
		}
		mem := tinyfs.NewMemoryDevice(hostFlashWriteBlockBytes, hostFlashEraseBlockBytes, int(size/hostFlashEraseBlockBytes))
		if err := mem.EraseBlocks(0, int64(size/hostFlashEraseBlockBytes)); err != nil {
			h.Close()
			return nil, err
		}
		h.flash = mem
	}

	h.storage = fstorage.NewNVMC(h.flash, fstorage.NVMCOptions{
		WriteLatency: cfg.WriteLatency,
		EraseLatency: cfg.EraseLatency,
	})
	h.led = &hostLED{logger: h.logger}

	var screen Status
	if d := b.Display(); d != nil {
		screen = newScreenStatus(d.Width, d.Height, nil)
	}
	h.status = logStatus{logger: h.logger, next: screen}
	return h, nil
}

func (h *Host) Logger() Logger            { return h.logger }
func (h *Host) LED() LED                  { return h.led }
func (h *Host) Flash() tinyfs.BlockDevice { return h.flash }
func (h *Host) Storage() fstorage.Storage { return h.storage }
func (h *Host) Clock() kernel.Clock       { return h.clock }
func (h *Host) Board() *board.Board       { return h.board }
func (h *Host) Status() Status            { return h.status }

// Close stops the storage primitive and releases host resources.
func (h *Host) Close() error {
	var err error
	h.once.Do(func() {
		if h.storage != nil {
			h.storage.Close()
		}
		for i := len(h.closers) - 1; i >= 0; i-- {
			if cerr := h.closers[i].Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

type hostLED struct {
	mu     sync.Mutex
	on     bool
	logger Logger
}

func (l *hostLED) High() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = true
	l.logger.WriteLineString("led: HIGH")
}

func (l *hostLED) Low() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = false
	l.logger.WriteLineString("led: LOW")
}

func (l *hostLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
