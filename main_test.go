package notify

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain asserts that no backend worker goroutine (inotify's readEvents,
// kqueue's readEvents, the polling backend's loop) is still running once a test
// finishes with its Watcher closed.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
