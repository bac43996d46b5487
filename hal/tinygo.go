//go:build tinygo && baremetal

package hal

import (
	"machine"

	"tinygo.org/x/drivers/ssd1306"
	"tinygo.org/x/tinyfs"

	"nrfhal/board"
	"nrfhal/fstorage"
	"nrfhal/kernel"
)

type tinyGoHAL struct {
	logger  *uartLogger
	led     *pinLED
	storage *fstorage.NVMC
	clock   kernel.Clock
	board   *board.Board
	status  Status
}

// New returns the nRF52 HAL for the default board.
//
// UART: UARTE0 on the board's STDIO_UART_TX/RX pins, 115200 8N1.
// Flash: the internal NVMC through machine.Flash, page erase 4 KiB, word writes.
func New() HAL {
	b := board.Default()

	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machinePin(b.Pin("STDIO_UART_TX")),
		RX:       machinePin(b.Pin("STDIO_UART_RX")),
	})
	logger := &uartLogger{uart: uart}

	ledPin := machinePin(b.Pin("SYS_LED_PIN"))
	if ledPin != machine.NoPin {
		ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}

	h := &tinyGoHAL{
		logger:  logger,
		led:     &pinLED{pin: ledPin},
		storage: fstorage.NewNVMC(machine.Flash, fstorage.NVMCOptions{}),
		clock:   kernel.NewMonotonic(),
		board:   b,
	}
	h.status = logStatus{logger: logger, next: newOLEDStatus(b)}
	return h
}

// newOLEDStatus drives the board's SSD1306, or returns nil when it has none.
func newOLEDStatus(b *board.Board) Status {
	d := b.Display()
	if d == nil {
		return nil
	}
	if rst := machinePin(d.Reset); rst != machine.NoPin {
		rst.Configure(machine.PinConfig{Mode: machine.PinOutput})
		rst.High()
	}
	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		SDA:       machinePin(d.SDA),
		SCL:       machinePin(d.SCL),
		Frequency: 400 * machine.KHz,
	}); err != nil {
		return nil
	}
	dev := ssd1306.NewI2C(i2c)
	dev.Configure(ssd1306.Config{Address: d.Address, Width: d.Width, Height: d.Height})
	dev.ClearDisplay()
	return newScreenStatus(d.Width, d.Height, func(buf []byte) error {
		if err := dev.SetBuffer(buf); err != nil {
			return err
		}
		return dev.Display()
	})
}

func (h *tinyGoHAL) Logger() Logger            { return h.logger }
func (h *tinyGoHAL) LED() LED                  { return h.led }
func (h *tinyGoHAL) Flash() tinyfs.BlockDevice { return machine.Flash }
func (h *tinyGoHAL) Storage() fstorage.Storage { return h.storage }
func (h *tinyGoHAL) Clock() kernel.Clock       { return h.clock }
func (h *tinyGoHAL) Board() *board.Board       { return h.board }
func (h *tinyGoHAL) Status() Status            { return h.status }
