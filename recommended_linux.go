//go:build linux && !appengine

package notify

import "github.com/go-logr/logr"

// recommendedNative reports whether this platform has a kernel-backed
// backend at all, as opposed to falling back to pollBackend.
const recommendedNative = true

// recommendedRecursive reports whether the recommended backend covers
// subdirectories created after a recursive watch starts on its own, or
// needs wrapping in a recursiveBackend to fake it (inotify and kqueue both
// watch one vnode/fd per directory and have no subtree flag).
const recommendedRecursive = false

func newRecommendedBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	return newInotifyBackend(buf, log)
}
