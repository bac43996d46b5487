//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

const hostSerialBaudRate = 115200

// lineLogger writes log lines to w, one per call. CRLF suits serial terminals.
type lineLogger struct {
	mu  sync.Mutex
	w   io.Writer
	eol []byte
}

func (l *lineLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, s)
	l.w.Write(l.eol)
}

func (l *lineLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write(l.eol)
}

// openSerialLogger logs to a serial port at 115200 8N1, like the board's STDIO UART.
func openSerialLogger(name string) (*lineLogger, io.Closer, error) {
	mode := &serial.Mode{
		BaudRate: hostSerialBaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("serial %s: %w", name, err)
	}
	return &lineLogger{w: port, eol: []byte("\r\n")}, port, nil
}
