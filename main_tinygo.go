//go:build tinygo && baremetal

package main

import (
	"nrfhal/app"
	"nrfhal/hal"
)

func main() {
	app.Run(hal.New())
}
