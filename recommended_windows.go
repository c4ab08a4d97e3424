//go:build windows

package notify

import "github.com/go-logr/logr"

const recommendedNative = true

// ReadDirectoryChangesW takes a bWatchSubtree flag at registration time, so
// a recursive watch is native; no recursiveBackend wrapping needed.
const recommendedRecursive = true

func newRecommendedBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	return newWindowsBackend(buf, log)
}
