package inference

import "sync/atomic"

// Flag is the shared cancellation signal of an inference run. It is
// advisory: the session polls it between fragments and cannot interrupt
// a generator call that does not yield.
type Flag struct {
	b atomic.Bool
}

// Set asks the running session to stop.
func (f *Flag) Set() { f.b.Store(true) }

// Clear resets the flag before a new run.
func (f *Flag) Clear() { f.b.Store(false) }

// IsSet reports whether a stop was requested.
func (f *Flag) IsSet() bool { return f.b.Load() }
