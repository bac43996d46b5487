// Package board names the pins of supported nRF52 boards and maps pin sets to
// peripheral instances.
//
// Board variants are described in YAML files embedded in the binary. A pin value is
// pN, P0_N, NC, or the name of another role on the same board.
package board

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// PinName identifies a GPIO line by its port 0 index.
type PinName uint32

// NC marks a role that is not connected.
const NC PinName = 0xFFFFFFFF

const (
	P0_0 PinName = iota
	P0_1
	P0_2
	P0_3
	P0_4
	P0_5
	P0_6
	P0_7
	P0_8
	P0_9
	P0_10
	P0_11
	P0_12
	P0_13
	P0_14
	P0_15
	P0_16
	P0_17
	P0_18
	P0_19
	P0_20
	P0_21
	P0_22
	P0_23
	P0_24
	P0_25
	P0_26
	P0_27
	P0_28
	P0_29
	P0_30
	P0_31
)

// PinCount is the number of GPIO lines on port 0.
const PinCount = 32

func (p PinName) String() string {
	if p == NC {
		return "NC"
	}
	return "p" + strconv.FormatUint(uint64(p), 10)
}

// PinDirection selects input or output.
type PinDirection uint8

const (
	PinInput PinDirection = iota
	PinOutput
)

// PinMode is the pull configuration, encoded as in the PIN_CNF register.
type PinMode uint8

const (
	PullNone    PinMode = 0
	PullDown    PinMode = 1
	PullUp      PinMode = 3
	PullDefault         = PullUp
)

var (
	ErrUnknownBoard = errors.New("board: unknown variant")
	ErrBadPin       = errors.New("board: bad pin value")
	ErrAliasCycle   = errors.New("board: alias cycle")
)

// Display describes an I2C status display.
type Display struct {
	SDA, SCL, Reset PinName
	Address         uint16
	Width, Height   int16
}

type i2cMap struct {
	SDA, SCL PinName
	Instance int
}

type spiMap struct {
	MOSI, MISO, SCK PinName
	Instance        int
}

type uartMap struct {
	TX, RX   PinName
	Instance int
}

// Board is a resolved pin table.
type Board struct {
	Name string
	MCU  string

	pins    map[string]PinName
	i2c     []i2cMap
	spi     []spiMap
	uart    []uartMap
	display *Display
}

type boardFile struct {
	Name string            `yaml:"name"`
	MCU  string            `yaml:"mcu"`
	Pins map[string]string `yaml:"pins"`
	I2C  []struct {
		SDA      string `yaml:"sda"`
		SCL      string `yaml:"scl"`
		Instance int    `yaml:"instance"`
	} `yaml:"i2c"`
	SPI []struct {
		MOSI     string `yaml:"mosi"`
		MISO     string `yaml:"miso"`
		SCK      string `yaml:"sck"`
		Instance int    `yaml:"instance"`
	} `yaml:"spi"`
	UART []struct {
		TX       string `yaml:"tx"`
		RX       string `yaml:"rx"`
		Instance int    `yaml:"instance"`
	} `yaml:"uart"`
	Display *struct {
		SDA     string `yaml:"sda"`
		SCL     string `yaml:"scl"`
		Reset   string `yaml:"reset"`
		Address uint16 `yaml:"address"`
		Width   int16  `yaml:"width"`
		Height  int16  `yaml:"height"`
	} `yaml:"display"`
}

// Load parses a board description and resolves every alias.
func Load(data []byte) (*Board, error) {
	var f boardFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("board: parse: %w", err)
	}
	if f.Name == "" {
		return nil, errors.New("board: missing name")
	}

	r := resolver{raw: f.Pins, done: make(map[string]PinName, len(f.Pins)), active: map[string]bool{}}
	b := &Board{Name: f.Name, MCU: f.MCU, pins: make(map[string]PinName, len(f.Pins))}
	for role := range f.Pins {
		p, err := r.resolve(role)
		if err != nil {
			return nil, fmt.Errorf("board %s: %w", f.Name, err)
		}
		b.pins[role] = p
	}

	pin := func(v string) (PinName, error) {
		p, err := r.value(v)
		if err != nil {
			return NC, fmt.Errorf("board %s: %w", f.Name, err)
		}
		return p, nil
	}
	for _, m := range f.I2C {
		sda, err := pin(m.SDA)
		if err != nil {
			return nil, err
		}
		scl, err := pin(m.SCL)
		if err != nil {
			return nil, err
		}
		b.i2c = append(b.i2c, i2cMap{SDA: sda, SCL: scl, Instance: m.Instance})
	}
	for _, m := range f.SPI {
		mosi, err := pin(m.MOSI)
		if err != nil {
			return nil, err
		}
		miso, err := pin(m.MISO)
		if err != nil {
			return nil, err
		}
		sck, err := pin(m.SCK)
		if err != nil {
			return nil, err
		}
		b.spi = append(b.spi, spiMap{MOSI: mosi, MISO: miso, SCK: sck, Instance: m.Instance})
	}
	for _, m := range f.UART {
		tx, err := pin(m.TX)
		if err != nil {
			return nil, err
		}
		rx, err := pin(m.RX)
		if err != nil {
			return nil, err
		}
		b.uart = append(b.uart, uartMap{TX: tx, RX: rx, Instance: m.Instance})
	}
	if d := f.Display; d != nil {
		sda, err := pin(d.SDA)
		if err != nil {
			return nil, err
		}
		scl, err := pin(d.SCL)
		if err != nil {
			return nil, err
		}
		rst := NC
		if d.Reset != "" {
			if rst, err = pin(d.Reset); err != nil {
				return nil, err
			}
		}
		b.display = &Display{SDA: sda, SCL: scl, Reset: rst, Address: d.Address, Width: d.Width, Height: d.Height}
	}
	return b, nil
}

type resolver struct {
	raw    map[string]string
	done   map[string]PinName
	active map[string]bool
}

func (r *resolver) resolve(role string) (PinName, error) {
	if p, ok := r.done[role]; ok {
		return p, nil
	}
	if r.active[role] {
		return NC, fmt.Errorf("%w at %s", ErrAliasCycle, role)
	}
	r.active[role] = true
	defer delete(r.active, role)

	p, err := r.value(r.raw[role])
	if err != nil {
		return NC, fmt.Errorf("%s: %w", role, err)
	}
	r.done[role] = p
	return p, nil
}

func (r *resolver) value(v string) (PinName, error) {
	v = strings.TrimSpace(v)
	if p, ok := parsePin(v); ok {
		return p, nil
	}
	if _, ok := r.raw[v]; ok {
		return r.resolve(v)
	}
	return NC, fmt.Errorf("%w %q", ErrBadPin, v)
}

func parsePin(v string) (PinName, bool) {
	if v == "NC" {
		return NC, true
	}
	var digits string
	switch {
	case strings.HasPrefix(v, "P0_"):
		digits = v[3:]
	case strings.HasPrefix(v, "p"):
		digits = v[1:]
	default:
		return NC, false
	}
	n, err := strconv.ParseUint(digits, 10, 8)
	if err != nil || n >= PinCount {
		return NC, false
	}
	return PinName(n), true
}

// Pin returns the pin assigned to role, or NC when the board has no such role.
func (b *Board) Pin(role string) PinName {
	if p, ok := b.pins[role]; ok {
		return p
	}
	return NC
}

// Roles returns the role names in sorted order.
func (b *Board) Roles() []string {
	roles := make([]string, 0, len(b.pins))
	for role := range b.pins {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// I2C returns the instance wired to sda and scl, or -1.
func (b *Board) I2C(sda, scl PinName) int {
	for _, m := range b.i2c {
		if m.SDA != NC && m.SDA == sda && m.SCL == scl {
			return m.Instance
		}
	}
	return -1
}

// SPI returns the instance wired to mosi, miso and sck, or -1.
func (b *Board) SPI(mosi, miso, sck PinName) int {
	for _, m := range b.spi {
		if m.SCK != NC && m.MOSI == mosi && m.MISO == miso && m.SCK == sck {
			return m.Instance
		}
	}
	return -1
}

// UART returns the instance wired to tx and rx, or -1.
func (b *Board) UART(tx, rx PinName) int {
	for _, m := range b.uart {
		if m.TX != NC && m.TX == tx && m.RX == rx {
			return m.Instance
		}
	}
	return -1
}

// Display returns the status display wiring, or nil when the board has none.
func (b *Board) Display() *Display { return b.display }

//go:embed boards/*.yaml
var boardFS embed.FS

var (
	variantsOnce sync.Once
	variants     map[string]*Board
	variantsErr  error
)

func loadVariants() {
	entries, err := boardFS.ReadDir("boards")
	if err != nil {
		variantsErr = err
		return
	}
	variants = make(map[string]*Board, len(entries))
	for _, e := range entries {
		data, err := boardFS.ReadFile(path.Join("boards", e.Name()))
		if err != nil {
			variantsErr = err
			return
		}
		b, err := Load(data)
		if err != nil {
			variantsErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
		variants[b.Name] = b
	}
}

// Variants returns the names of the embedded boards in sorted order.
func Variants() []string {
	variantsOnce.Do(loadVariants)
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns an embedded board by name.
func Lookup(name string) (*Board, error) {
	variantsOnce.Do(loadVariants)
	if variantsErr != nil {
		return nil, variantsErr
	}
	b, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBoard, name)
	}
	return b, nil
}

// DefaultVariant is the board used when none is configured.
const DefaultVariant = "regent"

// Default returns the regent board. It panics if the embedded table is broken.
func Default() *Board {
	b, err := Lookup(DefaultVariant)
	if err != nil {
		panic(err)
	}
	return b
}
