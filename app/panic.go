package app

import (
	"nrfhal/flash"
	"nrfhal/hal"
)

// installFatalHandler reports sequencer invariant violations on the log and the
// status display before the panic unwinds.
func installFatalHandler(h hal.HAL) {
	flash.SetFatalHandler(func(err *flash.FatalError) {
		if l := h.Logger(); l != nil {
			l.WriteLineString("nrfhal fatal: " + err.Msg)
		}
		if s := h.Status(); s != nil {
			_ = s.Show("FATAL", err.Msg)
		}
	})
}
