//go:build !tinygo

// Command flashsim drives the flash sequencer against a host flash image: it loads
// Intel HEX or raw binaries, runs command scripts and reports CRCs.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/marcinbor85/gohex"
	"github.com/mattn/go-colorable"
	"github.com/sigurn/crc16"
	"golang.org/x/sync/errgroup"

	"nrfhal/flash"
	"nrfhal/hal"
	"nrfhal/internal/buildinfo"
)

const (
	defaultImagePath = "nrfhal.flash"
	defaultChunk     = 256
	syncTimeout      = 30 * time.Second
)

const (
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorReset = "\x1b[0m"
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

type options struct {
	image   string
	size    string
	erase   bool
	hexPath string
	binPath string
	addr    uint64
	script  string
	chunk   int
	latency time.Duration
	board   string
	verbose bool
	version bool
	color   bool
}

func main() {
	out := colorable.NewColorableStdout()
	err := run(os.Args[1:], os.Stdin, out, true)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("flashsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.image, "image", defaultImagePath, "Flash image path (empty keeps flash in memory).")
	fs.StringVar(&o.size, "size", "512KB", "Flash size when creating an image.")
	fs.BoolVar(&o.erase, "erase", false, "Erase the whole device first.")
	fs.StringVar(&o.hexPath, "hex", "", "Intel HEX file to program.")
	fs.StringVar(&o.binPath, "bin", "", "Raw binary file to program at -addr.")
	fs.Uint64Var(&o.addr, "addr", 0, "Load address for -bin.")
	fs.StringVar(&o.script, "script", "", "Command script to run (- for stdin).")
	fs.IntVar(&o.chunk, "chunk", defaultChunk, "Bytes per program request.")
	fs.DurationVar(&o.latency, "latency", 0, "Emulated write latency; erase is 10x.")
	fs.StringVar(&o.board, "board", "", "Board variant for pin lookups.")
	fs.BoolVar(&o.verbose, "v", false, "Show sequencer log lines.")
	fs.BoolVar(&o.version, "version", false, "Print version and exit.")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.chunk <= 0 {
		return o, fmt.Errorf("-chunk must be positive")
	}
	if o.hexPath != "" && o.binPath != "" {
		return o, fmt.Errorf("-hex and -bin are exclusive")
	}
	if o.addr > uint64(^uint32(0)) {
		return o, fmt.Errorf("-addr 0x%x out of range", o.addr)
	}
	return o, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer, color bool) error {
	o, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	o.color = color
	if o.version {
		fmt.Fprintln(stdout, "flashsim", buildinfo.Long())
		return nil
	}

	size, err := hal.ParseSize(o.size)
	if err != nil {
		return fmt.Errorf("-size: %w", err)
	}
	h, err := hal.NewWithConfig(hal.Config{
		FlashPath:    o.image,
		FlashSize:    size,
		Board:        o.board,
		WriteLatency: o.latency,
		EraseLatency: 10 * o.latency,
		Output:       stdout,
	})
	if err != nil {
		return err
	}
	defer h.Close()

	opts := flash.Options{Clock: h.Clock()}
	if o.verbose {
		opts.Logger = h.Logger()
	}
	m := flash.NewManager(h.Storage(), opts)
	defer m.Teardown()

	s := &session{o: o, h: h, m: m, out: stdout}
	if s.dev, err = s.open(); err != nil {
		return err
	}

	ctx := context.Background()
	if o.erase {
		if err := s.eraseRange(ctx, m.Region().Start, m.Region().Size()); err != nil {
			return err
		}
		s.okf("erased %d bytes", m.Region().Size())
	}

	var segs []segment
	switch {
	case o.hexPath != "":
		segs, err = loadHex(o.hexPath)
	case o.binPath != "":
		segs, err = loadBin(o.binPath, uint32(o.addr))
	}
	if err != nil {
		return err
	}
	if len(segs) > 0 {
		if err := s.programSegments(ctx, segs); err != nil {
			return err
		}
	}

	if o.script != "" {
		r := stdin
		if o.script != "-" {
			f, err := os.Open(o.script)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		if err := s.runScript(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

type segment struct {
	addr uint32
	data []byte
}

func loadHex(path string) ([]segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var segs []segment
	for _, ds := range mem.GetDataSegments() {
		segs = append(segs, segment{addr: ds.Address, data: ds.Data})
	}
	return segs, nil
}

func loadBin(path string, addr uint32) ([]segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty", path)
	}
	return []segment{{addr: addr, data: data}}, nil
}

type session struct {
	o   options
	h   hal.HAL
	m   *flash.Manager
	dev *flash.Device
	out io.Writer
}

func (s *session) open() (*flash.Device, error) {
	d := s.m.NewDevice()
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *session) paint(color, word string) string {
	if !s.o.color {
		return word
	}
	return color + word + colorReset
}

func (s *session) okf(format string, args ...any) {
	fmt.Fprintf(s.out, "%s %s\n", s.paint(colorGreen, "ok"), fmt.Sprintf(format, args...))
}

func (s *session) failf(format string, args ...any) {
	fmt.Fprintf(s.out, "%s %s\n", s.paint(colorRed, "FAIL"), fmt.Sprintf(format, args...))
}

func (s *session) syncCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, syncTimeout)
}

// eraseRange erases every sector overlapping [addr, addr+n) and waits for the
// primitive to finish.
func (s *session) eraseRange(ctx context.Context, addr, n uint32) error {
	for _, sec := range s.sectors(addr, n) {
		if err := s.dev.EraseSector(sec); err != nil {
			return err
		}
	}
	return s.waitIdle(ctx)
}

func (s *session) sectors(addr, n uint32) []uint32 {
	region := s.m.Region()
	var out []uint32
	a := region.Start
	for a < region.End {
		size := s.dev.SectorSize(a)
		if size == flash.InvalidSize || size == 0 {
			break
		}
		if a+size > addr && a < addr+n {
			out = append(out, a)
		}
		a += size
	}
	return out
}

// waitIdle waits for queued writes and then for the primitive itself, which may
// still be erasing with nothing queued.
func (s *session) waitIdle(ctx context.Context) error {
	ctx, cancel := s.syncCtx(ctx)
	defer cancel()
	if err := s.dev.Sync(ctx); err != nil {
		return err
	}
	for s.h.Storage().IsBusy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (s *session) program(ctx context.Context, d *flash.Device, addr uint32, data []byte) error {
	ctx, cancel := s.syncCtx(ctx)
	defer cancel()
	for off := 0; off < len(data); {
		end := off + s.o.chunk
		if end > len(data) {
			end = len(data)
		}
		err := d.ProgramPage(addr+uint32(off), data[off:end])
		if errors.Is(err, flash.ErrResourceExhausted) {
			if err := d.Sync(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("program 0x%08x: %w", addr+uint32(off), err)
		}
		off = end
	}
	return d.Sync(ctx)
}

// programSegments erases the sectors the segments touch, then programs each segment
// through its own logical device concurrently and verifies the result.
func (s *session) programSegments(ctx context.Context, segs []segment) error {
	sort.Slice(segs, func(i, j int) bool { return segs[i].addr < segs[j].addr })

	seen := map[uint32]bool{}
	for _, seg := range segs {
		for _, sec := range s.sectors(seg.addr, uint32(len(seg.data))) {
			if seen[sec] {
				continue
			}
			seen[sec] = true
			if err := s.dev.EraseSector(sec); err != nil {
				return err
			}
		}
	}
	if err := s.waitIdle(ctx); err != nil {
		return err
	}

	// Device.Init empties the shared queue, so every device is opened up front.
	devs := make([]*flash.Device, len(segs))
	for i := range segs {
		d, err := s.open()
		if err != nil {
			return err
		}
		devs[i] = d
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segs {
		i, seg := i, seg
		g.Go(func() error {
			return s.program(gctx, devs[i], seg.addr, seg.data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, seg := range segs {
		got := make([]byte, len(seg.data))
		if err := s.dev.Read(seg.addr, got); err != nil {
			return err
		}
		want := crc16.Checksum(seg.data, crcTable)
		if sum := crc16.Checksum(got, crcTable); sum != want {
			s.failf("segment 0x%08x %d bytes crc16=0x%04x want 0x%04x", seg.addr, len(seg.data), sum, want)
			return fmt.Errorf("verify 0x%08x: mismatch", seg.addr)
		}
		s.okf("segment 0x%08x %d bytes crc16=0x%04x", seg.addr, len(seg.data), want)
	}
	return nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}

func (s *session) runScript(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		args, err := shlex.Split(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(args) == 0 {
			continue
		}
		if err := s.command(ctx, args); err != nil {
			s.failf("line %d: %s: %v", line, args[0], err)
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func (s *session) command(ctx context.Context, args []string) error {
	switch args[0] {
	case "info":
		d := s.dev
		b := s.h.Board()
		s.okf("board=%s start=0x%08x size=%d sector=%d page=%d erase=0x%02x",
			b.Name, d.StartAddress(), d.Size(), d.SectorSize(d.StartAddress()), d.PageSize(), d.EraseValue())
	case "erase":
		if len(args) != 2 {
			return errors.New("usage: erase ADDR")
		}
		addr, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		if err := s.dev.EraseSector(addr); err != nil {
			return err
		}
		if err := s.waitIdle(ctx); err != nil {
			return err
		}
		s.okf("erase 0x%08x", addr)
	case "program":
		if len(args) < 3 {
			return errors.New("usage: program ADDR hex:BYTES|TEXT...")
		}
		addr, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		var data []byte
		if h, ok := strings.CutPrefix(args[2], "hex:"); ok && len(args) == 3 {
			if data, err = hex.DecodeString(h); err != nil {
				return err
			}
		} else {
			data = []byte(strings.Join(args[2:], " "))
		}
		if err := s.dev.ProgramPage(addr, data); err != nil {
			return err
		}
		s.okf("program 0x%08x %d bytes queued=%d", addr, len(data), s.dev.Pending())
	case "sync":
		ctx, cancel := s.syncCtx(ctx)
		defer cancel()
		if err := s.dev.Sync(ctx); err != nil {
			return err
		}
		s.okf("sync")
	case "read", "crc":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s ADDR LEN", args[0])
		}
		addr, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		n, err := parseUint32(args[2])
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if err := s.dev.Read(addr, buf); err != nil {
			return err
		}
		if args[0] == "crc" {
			s.okf("crc 0x%08x %d crc16=0x%04x", addr, n, crc16.Checksum(buf, crcTable))
		} else {
			s.okf("read 0x%08x %d %s", addr, n, hex.EncodeToString(buf))
		}
	case "pins":
		b := s.h.Board()
		roles := b.Roles()
		if len(args) > 1 {
			roles = args[1:]
		}
		for _, role := range roles {
			fmt.Fprintf(s.out, "%-24s %v\n", role, b.Pin(role))
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
