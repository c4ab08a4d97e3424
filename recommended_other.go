//go:build !darwin && !dragonfly && !freebsd && !openbsd && !linux && !netbsd && !windows

package notify

import "github.com/go-logr/logr"

// No kernel-backed backend exists on this GOOS (plan9, solaris, aix, js,
// and anything future); pollBackend is both the recommended and only
// option.
const recommendedNative = false
const recommendedRecursive = true // the poll backend walks its own tree.

func newRecommendedBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	return newPollBackend(buf, log)
}
