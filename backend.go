package notify

import (
	"fmt"
	"path/filepath"
	"strings"
)

// backend is the interface every native OS implementation satisfies, and
// that the recursive wrapper (backend_recursive.go) composes over a backend
// that doesn't natively support recursive watches.
type backend interface {
	Add(path string) error
	AddWith(path string, opts ...addOpt) error
	Remove(path string) error
	WatchList() []string
	Close() error
	xSupports(mask EventKindMask) bool
}

// withOpts collects the per-watch options a caller can set via AddWith: a
// plain struct built up by a chain of addOpt functions and read back out by
// each backend's add/AddWith.
type withOpts struct {
	recurse    bool
	sendCreate bool
	mask       EventKindMask
	maskSet    bool // true iff WithMask was actually applied, not just defaulted
	noFollow   bool
	bufsize    int
}

// defaultOpts is returned whenever a lookup into the per-path options table
// fails; it must never alias a caller's withOpts since callers may mutate the
// value they get back only through further addOpt application.
var defaultOpts = withOpts{mask: MaskAll}

// addOpt is a functional option for AddWith; backend_inotify.go's AddWith
// threads these through getOptions.
type addOpt func(*withOpts)

// WithMask restricts AddWith to a subset of event kinds. Backends that can
// push the mask into the kernel do so (inotify translates it to IN_* bits);
// others apply it as a post-filter in their event-read loop.
func WithMask(mask EventKindMask) addOpt {
	return func(w *withOpts) { w.mask = mask; w.maskSet = true }
}

// WithCreate requests that, for a recursive watch, Create events be sent for
// every pre-existing file and directory discovered while establishing the
// watch (not just for entries created afterward). Without it, a tree moved
// in wholesale (e.g. "mkdir -p one/two/three" done elsewhere then moved in)
// only reports its first path component; see backend_recursive.go.
func WithCreate() addOpt {
	return func(w *withOpts) { w.sendCreate = true }
}

// WithNoFollow disables symlink traversal when walking a recursive watch.
func WithNoFollow() addOpt {
	return func(w *withOpts) { w.noFollow = true }
}

// WithBufferSize requests a backend's native kernel-buffer size. No backend
// applies it: inotify accepts and ignores it, and the FSEvents, kqueue,
// polling and Windows backends reject it with xErrUnsupported.
func WithBufferSize(n int) addOpt {
	return func(w *withOpts) { w.bufsize = n }
}

// getOptions builds a withOpts by applying opts over defaultOpts.
func getOptions(opts ...addOpt) withOpts {
	with := defaultOpts
	for _, o := range opts {
		o(&with)
	}
	return with
}

// recursivePath splits the "/..." recursive-watch suffix off of path,
// reporting whether it was present.
func recursivePath(path string) (string, bool) {
	if strings.HasSuffix(path, recursiveSuffix) {
		return strings.TrimSuffix(path, recursiveSuffix), true
	}
	return path, false
}

const recursiveSuffix = string(filepath.Separator) + "..."

// xErrUnsupported reports that a backend was asked to filter on or otherwise
// act on an EventKindMask bit it cannot ever support, as opposed to
// ErrInvalidConfig's "supported but misconfigured".
var xErrUnsupported = fmt.Errorf("%w: operation not supported by this backend", ErrNotImplemented)

// ErrNonExistentWatch is returned for operations (Remove, getOptions lookups)
// against a path that was never successfully added.
var ErrNonExistentWatch = ErrWatchNotFound
