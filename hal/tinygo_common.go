//go:build tinygo && baremetal

package hal

import (
	"machine"

	"nrfhal/board"
)

func machinePin(p board.PinName) machine.Pin {
	if p == board.NC || p >= board.PinCount {
		return machine.NoPin
	}
	return machine.Pin(p)
}

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type pinLED struct {
	pin machine.Pin
}

func (l *pinLED) High() {
	if l.pin != machine.NoPin {
		l.pin.High()
	}
}

func (l *pinLED) Low() {
	if l.pin != machine.NoPin {
		l.pin.Low()
	}
}
