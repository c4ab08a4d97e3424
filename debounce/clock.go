// Package debounce implements two debounced views over a raw notify.Watcher
// stream: Mini (path-level dedup) and Full (rename-stitched,
// identity-aware). Both share one scheduler shape: a single goroutine
// blocking on a timer and draining pending state into a slice, the same
// pattern the inotify read loop uses for kernel events.
package debounce

import "time"

// Clock abstracts time so tests can drive the scheduler deterministically
// instead of sleeping real milliseconds. It is the only piece of
// test-only mutable state in the debouncer.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once after d, the same shape
	// as time.After.
	After(d time.Duration) <-chan time.Time
}

// realClock is the default Clock, backed directly by the time package.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the Clock every exported constructor uses unless a test
// passes its own via the unexported clock field (see mini_test.go /
// full_test.go for the fake used there).
var RealClock Clock = realClock{}
