//go:build darwin

package notify

import "github.com/go-logr/logr"

const recommendedNative = true

// FSEvents watches a whole tree per root and picks up new subdirectories on
// its own; no recursiveBackend wrapping needed.
const recommendedRecursive = true

func newRecommendedBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	return newFSEventsBackend(buf, log)
}
