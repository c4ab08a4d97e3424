package notify

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors forming the error taxonomy surfaced by this package. Use
// errors.Is to test for these; underlying OS errors remain unwrappable via
// errors.Cause/errors.Unwrap, using github.com/pkg/errors for the wrapping
// so each layer (backend → facade → debouncer) can add context without
// losing the original syscall errno.
var (
	// ErrClosed is returned by operations on a Watcher or backend after
	// Close has been called.
	ErrClosed = errors.New("notify: watcher closed")

	// ErrWatchNotFound is returned by Unwatch (and a backend's Remove) for a
	// path that was never added, or already removed.
	ErrWatchNotFound = errors.New("notify: watch not found")

	// ErrPathNotFound is returned by Watch for a path that does not exist
	// on the filesystem.
	ErrPathNotFound = errors.New("notify: path not found")

	// ErrInvalidConfig is returned by Configure when an option is
	// unsupported by the active backend, or when option values are
	// mutually inconsistent (e.g. ongoing_interval > debounce_timeout).
	ErrInvalidConfig = errors.New("notify: invalid configuration")

	// ErrMaxFilesWatch indicates the backend has exhausted a kernel
	// resource limit (e.g. inotify's max_user_watches).
	ErrMaxFilesWatch = errors.New("notify: max files watched")

	// ErrNotImplemented is returned for operations a backend does not
	// support at all (as opposed to ErrInvalidConfig, which is for
	// supported operations given bad arguments).
	ErrNotImplemented = errors.New("notify: not implemented")

	// ErrEventOverflow describes a kernel event queue overflow. No backend
	// sends this value: an overflow surfaces on the event stream as an
	// Other("overflow") Event whose flag attribute is FlagRescan.
	ErrEventOverflow = errors.New("notify: kernel event queue overflowed, some events were lost")

	// ErrRescanRequired is sent on a debounced stream (see the debounce
	// package) when the underlying watcher signalled a dropped/overflowed
	// event and the debouncer has rebuilt its identity map from scratch.
	// Consumers that cache derived state should treat it as possibly
	// stale until they've re-synced.
	ErrRescanRequired = errors.New("notify: rescan required, identity map was rebuilt")
)

// Generic returns a new error carrying a formatted message; used for
// conditions that don't fit a more specific sentinel above.
func Generic(format string, args ...any) error {
	return errors.New(fmt.Sprintf(format, args...))
}

// PathError reports an error scoped to a single path, as surfaced for
// per-event ("transient") errors. The Err field is typically one
// of the sentinels above, or a wrapped *os.SyscallError.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("notify: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func pathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Op: op, Path: path, Err: err}
}
