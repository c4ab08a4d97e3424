//go:build freebsd || openbsd || netbsd || dragonfly

package notify

import "github.com/go-logr/logr"

const recommendedNative = true
const recommendedRecursive = false

func newRecommendedBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	return newKqueueBackend(buf, log)
}
