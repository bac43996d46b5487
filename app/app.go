package app

import (
	"context"
	"fmt"
	"time"

	"nrfhal/flash"
	"nrfhal/hal"
	"nrfhal/internal/buildinfo"
)

// Config tunes the boot sequence.
type Config struct {
	// Blink is the LED half period of the idle loop. Zero selects 500ms.
	Blink time.Duration
	// Flash overrides the sequencer options. Clock and Logger default to the HAL's.
	Flash flash.Options
}

// Report summarizes a completed boot.
type Report struct {
	Boots   uint32
	LogAddr uint32
	Device  *flash.Device
}

// Run boots with the default config and blinks the LED forever.
func Run(h hal.HAL) {
	RunWithConfig(h, Config{})
}

// RunWithConfig boots and blinks the LED forever.
func RunWithConfig(h hal.HAL, cfg Config) {
	if _, err := Boot(context.Background(), h, cfg); err != nil {
		h.Logger().WriteLineString("boot: " + err.Error())
	}
	blink := cfg.Blink
	if blink <= 0 {
		blink = 500 * time.Millisecond
	}
	led := h.LED()
	for {
		led.High()
		time.Sleep(blink)
		led.Low()
		time.Sleep(blink)
	}
}

// Boot installs the process-wide flash manager on the HAL storage, opens a device,
// counts this boot in the boot log and shows the count on the status display.
func Boot(ctx context.Context, h hal.HAL, cfg Config) (*Report, error) {
	l := h.Logger()
	installFatalHandler(h)

	opts := cfg.Flash
	if opts.Clock == nil {
		opts.Clock = h.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = l
	}
	flash.Configure(h.Storage(), opts)
	d, err := flash.Open()
	if err != nil {
		return nil, err
	}

	b := h.Board()
	l.WriteLineString(fmt.Sprintf("nrfhal %s board=%s mcu=%s", buildinfo.Short(), b.Name, b.MCU))
	l.WriteLineString(fmt.Sprintf("flash: start=0x%08x size=%d sector=%d page=%d erase=0x%02x",
		d.StartAddress(), d.Size(), d.SectorSize(d.StartAddress()), d.PageSize(), d.EraseValue()))
	l.WriteLineString(fmt.Sprintf("pins: tx=%v rx=%v led=%v", b.Pin("STDIO_UART_TX"), b.Pin("STDIO_UART_RX"), b.Pin("SYS_LED_PIN")))

	bl, err := OpenBootLog(d)
	if err != nil {
		return nil, err
	}
	last, ok, err := bl.Last()
	if err != nil {
		return nil, err
	}
	next := Record{Count: 1, Stamp: opts.Clock.Micros()}
	if ok {
		next.Count = last.Count + 1
	}
	if err := bl.Append(ctx, next); err != nil {
		return nil, err
	}
	l.WriteLineString(fmt.Sprintf("boot: count=%d log=0x%08x", next.Count, bl.Addr()))

	if s := h.Status(); s != nil {
		if err := s.Show("nrfhal "+buildinfo.Short(), fmt.Sprintf("boots: %d", next.Count), b.Name); err != nil {
			l.WriteLineString("status: " + err.Error())
		}
	}
	return &Report{Boots: next.Count, LogAddr: bl.Addr(), Device: d}, nil
}
