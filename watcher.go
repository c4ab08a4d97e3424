package notify

import (
	"errors"
	"io/fs"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// RecursiveMode selects whether a watch covers subdirectories created after
// the watch starts.
type RecursiveMode uint8

const (
	// NonRecursive watches only the given path itself.
	NonRecursive RecursiveMode = iota
	// Recursive watches the given path and every subdirectory, including
	// ones created later.
	Recursive
)

// Watcher is the platform-independent facade: it selects a backend for the
// running GOOS (newRecommendedBackend in recommended_*.go), normalizes paths, and
// exposes the event/error stream as two channels — the same shape the
// teacher's Watcher used, just fed from a bounded RingBuffer instead of an
// unbounded chan Event.
type Watcher struct {
	log logr.Logger

	mu      sync.Mutex
	b       backend
	buf     *RingBuffer
	kind    string
	recurse bool // true iff b is wrapped in a recursiveBackend
	mask    EventKindMask
	closed  bool

	events chan Event
	errors chan error
	done   chan struct{}

	scanSink func(path string)
}

// WatcherOption configures New.
type WatcherOption func(*Watcher)

// WithLogger attaches a logr.Logger; the zero value (logr.Discard()) is
// used if this option is never passed, so logging is opt-in.
func WithLogger(log logr.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// WithScanSink registers fn to be called once per path discovered during a
// watch's initial scan, on backends that perform one (currently the
// polling backend only). This is a bootstrap signal kept separate from the
// regular Events stream, so a caller can distinguish "this already existed"
// from "this just changed". It is a no-op on backends that don't scan
// (inotify, kqueue, FSEvents, Windows all report Create only for entries
// that show up after the watch starts).
func WithScanSink(fn func(path string)) WatcherOption {
	return func(w *Watcher) { w.scanSink = fn }
}

// New constructs a Watcher using the recommended backend for the running
// platform: inotify on Linux, kqueue on the BSDs, FSEvents on macOS,
// ReadDirectoryChangesW on Windows, and the polling backend everywhere
// else. Backends without native recursive watches (inotify, kqueue) are
// transparently wrapped so Watch(path, Recursive) still works.
func New(opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		log:    logr.Discard(),
		mask:   MaskAll,
		events: make(chan Event),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	w.buf = NewRingBuffer(0)
	mk := func(buf *RingBuffer) (backend, error) { return newRecommendedBackend(buf, w.log) }

	var (
		b   backend
		err error
	)
	if recommendedRecursive {
		b, err = mk(w.buf)
	} else {
		b, err = newRecursiveBackend(w.buf, mk)
	}
	if err != nil {
		return nil, err
	}

	if w.scanSink != nil {
		if pb, ok := unwrapPollBackend(b); ok {
			pb.onScan = w.scanSink
		}
	}

	w.b = b
	w.kind = runtime.GOOS
	w.recurse = !recommendedRecursive
	go w.pump()
	return w, nil
}

// Events returns the channel of delivered events. It is closed once Close
// has fully drained the backend.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of errors a backend reports as Other("error")
// events (backend read failures and the like). A kernel queue overflow is
// not reported here; it arrives on Events as an Other("overflow") event
// flagged FlagRescan. It is closed alongside Events.
func (w *Watcher) Errors() <-chan error { return w.errors }

// pump drains the shared RingBuffer and splits entries tagged Other("error")
// into the Errors channel, everything else into Events.
func (w *Watcher) pump() {
	defer close(w.events)
	defer close(w.errors)
	defer close(w.done)
	for {
		ev, ok := w.buf.Pull()
		if !ok {
			return
		}
		if tag, isOther := ev.Kind.IsOther(); isOther && tag == "error" {
			msg := ev.Attrs["error"]
			var path string
			if len(ev.Paths) > 0 {
				path = ev.Paths[0]
			}
			w.errors <- pathErr("watch", path, Generic("%s", msg))
			continue
		}
		if !w.currentMask().Allows(ev.Kind) {
			continue
		}
		w.events <- ev
	}
}

// Watch starts watching path, resolved to an absolute path first. recursive
// is only honored for directories.
func (w *Watcher) Watch(path string, recursive RecursiveMode, opts ...addOpt) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	// Only gate on xSupports when the caller explicitly narrowed the mask
	// via WithMask: the unrequested default (MaskAll) asks for every class
	// "if available", which every backend already treats as a no-op filter
	// for classes it never emits (e.g. MaskAccess on every backend but
	// inotify) rather than an error.
	with := getOptions(opts...)
	if with.maskSet && !w.b.xSupports(with.mask) {
		return xErrUnsupported
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = canonicalize(abs)

	if recursive == Recursive {
		abs = abs + recursiveSuffix
	}
	if err := w.b.AddWith(abs, opts...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pathErr("watch", path, ErrPathNotFound)
		}
		return err
	}
	return nil
}

// Unwatch removes path. It fails with ErrWatchNotFound if path was never
// added (or was already removed).
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.b.Remove(canonicalize(abs))
}

// UpdatePaths applies a batch of adds and removes. It applies all adds
// before any removes, and does not roll back earlier successes if a later
// operation fails — the caller gets back the first error and can inspect
// WatchList to see what actually landed.
func (w *Watcher) UpdatePaths(adds []string, recursive RecursiveMode, removes []string) error {
	for _, p := range adds {
		if err := w.Watch(p, recursive); err != nil {
			return err
		}
	}
	for _, p := range removes {
		if err := w.Unwatch(p); err != nil {
			return err
		}
	}
	return nil
}

// WatchList returns every currently-watched root path.
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.b.WatchList()
}

// Kind returns a tag identifying the active backend: a GOOS name for a
// native backend, or "poll" for the polling fallback.
func (w *Watcher) Kind() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !recommendedNative {
		return "poll"
	}
	return w.kind
}

// Configure applies cfg to the running Watcher. It reports whether the
// active backend honors every option (native backends don't support
// PollInterval/CompareContents; those are silently ignored rather than
// rejected, since they simply don't apply). Mutually-inconsistent debounce
// parameters fail with ErrInvalidConfig regardless of backend.
func (w *Watcher) Configure(cfg Config) (bool, error) {
	if err := cfg.validate(); err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, ErrClosed
	}
	w.mask = cfg.EventKinds

	b := w.b
	if rb, ok := b.(*recursiveBackend); ok {
		b = rb.b
	}
	if ic, ok := b.(identityConfigurable); ok {
		ic.setFollowSymlinks(cfg.FollowSymlinks)
	}

	pb, ok := w.pollBackend()
	if !ok {
		// Native backend: only the mask (and, if applicable, FollowSymlinks
		// above) apply.
		return false, nil
	}

	pb.Configure(cfg.CompareContents, cfg.FollowSymlinks, cfg.PollInterval)
	return true, nil
}

// identityConfigurable is implemented by backends that maintain their own
// fileid.Cache for rename stitching (fsEventsBackend); Configure uses it to
// thread cfg.FollowSymlinks through even when the active backend isn't the
// polling one.
type identityConfigurable interface {
	setFollowSymlinks(bool)
}

// Poll performs exactly one scan cycle synchronously. It only applies in
// manual-polling mode (Config.PollInterval == nil on the polling backend);
// on any other backend it returns ErrNotImplemented.
func (w *Watcher) Poll() error {
	w.mu.Lock()
	pb, ok := w.pollBackend()
	w.mu.Unlock()
	if !ok {
		return ErrNotImplemented
	}
	return pb.ScanOnce()
}

// currentMask reads the active EventKindMask under lock; Configure is the
// only writer.
func (w *Watcher) currentMask() EventKindMask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mask
}

// pollBackend returns the underlying *pollBackend, unwrapping a
// recursiveBackend if present. Must be called with w.mu held.
func (w *Watcher) pollBackend() (*pollBackend, bool) {
	return unwrapPollBackend(w.b)
}

// unwrapPollBackend reports whether b is a *pollBackend, looking through a
// recursiveBackend wrapper if present.
func unwrapPollBackend(b backend) (*pollBackend, bool) {
	if rb, ok := b.(*recursiveBackend); ok {
		b = rb.b
	}
	pb, ok := b.(*pollBackend)
	return pb, ok
}

// Close stops the backend, unregisters every kernel watch, and closes the
// event/error channels once fully drained. Close is idempotent and never
// returns an error from an already-closed Watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	b := w.b
	w.mu.Unlock()

	err := b.Close()

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

// canonicalize resolves symlinks in path where the platform's native
// backend requires it (macOS FSEvents reports canonicalized paths, so a
// watch registered under a symlinked path would never match incoming
// events otherwise); elsewhere it's a no-op on error, preserving the
// caller's original path rather than failing Watch for a dangling symlink.
func canonicalize(path string) string {
	if runtime.GOOS != "darwin" {
		return path
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return real
}
