//go:build !tinygo

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"nrfhal/app"
	"nrfhal/flash"
	"nrfhal/hal"
)

func main() {
	cfg, err := hal.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var once bool
	var size string
	flag.StringVar(&cfg.FlashPath, "flash", cfg.FlashPath, "Flash image path (empty keeps flash in memory).")
	flag.StringVar(&size, "size", "", "Flash size for a new image, e.g. 512KB.")
	flag.StringVar(&cfg.Board, "board", cfg.Board, "Board variant.")
	flag.StringVar(&cfg.Serial, "serial", cfg.Serial, "Log to this serial port instead of stdout.")
	flag.BoolVar(&once, "once", false, "Exit after booting instead of blinking the LED.")
	flag.Parse()

	if size != "" {
		if cfg.FlashSize, err = hal.ParseSize(size); err != nil {
			fmt.Fprintln(os.Stderr, "-size:", err)
			os.Exit(2)
		}
	}

	h, err := hal.NewWithConfig(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer h.Close()

	if !once {
		app.Run(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = app.Boot(ctx, h, app.Config{})
	if m := flash.Default(); m != nil {
		m.Teardown()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		h.Close()
		os.Exit(1)
	}
}
