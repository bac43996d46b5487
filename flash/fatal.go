package flash

import "sync/atomic"

// FatalError reports a broken contract between the sequencer and the storage
// primitive, such as a completion event for a device with no write in flight.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "flash: fatal: " + e.Msg }

var fatalHandler atomic.Pointer[func(*FatalError)]

// SetFatalHandler installs a process-wide hook invoked before the sequencer panics on
// an invariant violation. It must not panic.
func SetFatalHandler(fn func(*FatalError)) {
	if fn == nil {
		fatalHandler.Store(nil)
		return
	}
	fatalHandler.Store(&fn)
}

func fatal(msg string) {
	err := &FatalError{Msg: msg}
	if fn := fatalHandler.Load(); fn != nil {
		(*fn)(err)
	}
	panic(err)
}
