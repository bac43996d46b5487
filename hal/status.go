package hal

import (
	"image/color"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

// monoBuffer is a 1 bpp frame in SSD1306 GDDRAM order: one byte covers eight
// vertical pixels of a page.
type monoBuffer struct {
	w, h int16
	buf  []byte
}

var _ drivers.Displayer = (*monoBuffer)(nil)

func newMonoBuffer(w, h int16) *monoBuffer {
	return &monoBuffer{w: w, h: h, buf: make([]byte, int(w)*int((h+7)/8))}
}

func (b *monoBuffer) Size() (x, y int16) { return b.w, b.h }

func (b *monoBuffer) SetPixel(x, y int16, c color.RGBA) {
	if x < 0 || x >= b.w || y < 0 || y >= b.h {
		return
	}
	i := int(x) + int(y/8)*int(b.w)
	bit := byte(1) << uint(y%8)
	if c.R|c.G|c.B != 0 {
		b.buf[i] |= bit
	} else {
		b.buf[i] &^= bit
	}
}

func (b *monoBuffer) Display() error { return nil }

func (b *monoBuffer) pixel(x, y int16) bool {
	if x < 0 || x >= b.w || y < 0 || y >= b.h {
		return false
	}
	return b.buf[int(x)+int(y/8)*int(b.w)]&(1<<uint(y%8)) != 0
}

func (b *monoBuffer) clear() {
	for i := range b.buf {
		b.buf[i] = 0
	}
}

const statusLineHeight = 10

var statusFG = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

// screenStatus renders lines into a monoBuffer and hands the frame to flush.
type screenStatus struct {
	mu    sync.Mutex
	fb    *monoBuffer
	flush func([]byte) error
}

func newScreenStatus(w, h int16, flush func([]byte) error) *screenStatus {
	return &screenStatus{fb: newMonoBuffer(w, h), flush: flush}
}

func (s *screenStatus) Show(lines ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fb.clear()
	y := int16(statusLineHeight - 2)
	for _, line := range lines {
		if y > s.fb.h {
			break
		}
		tinyfont.WriteLine(s.fb, &proggy.TinySZ8pt7b, 0, y, line, statusFG)
		y += statusLineHeight
	}
	if s.flush == nil {
		return nil
	}
	return s.flush(s.fb.buf)
}

// logStatus mirrors status lines to a logger.
type logStatus struct {
	logger Logger
	next   Status
}

func (s logStatus) Show(lines ...string) error {
	for _, line := range lines {
		s.logger.WriteLineString("status: " + line)
	}
	if s.next == nil {
		return nil
	}
	return s.next.Show(lines...)
}
