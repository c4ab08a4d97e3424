//go:build linux && !appengine

package notify

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/go-logr/logr"
	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/watchcore/notify/internal"
)

// inotifyBackend watches a set of paths using Linux's inotify(7), delivering
// events into a RingBuffer.
//
// When a file is removed a Remove event won't be emitted until all file
// descriptors are closed, and deletes will always also emit a metadata
// (Chmod-equivalent) event first. For example:
//
//	fp := os.Open("file")
//	os.Remove("file")        // Triggers a metadata event
//	fp.Close()               // Triggers Remove
//
// This is the event inotify sends; not much can be changed about it.
//
// fs.inotify.max_user_watches bounds the number of watches per user, and
// fs.inotify.max_user_instances the number of inotify instances (one per
// inotifyBackend). Reaching either limit surfaces as ErrMaxFilesWatch.
type inotifyBackend struct {
	buf *RingBuffer
	log logr.Logger

	fd          int
	inotifyFile *os.File
	watches     *watches
	done        chan struct{}
	doneMu      sync.Mutex
	doneResp    chan struct{}

	cookies     [10]koekje
	cookieIndex uint8
	cookiesMu   sync.Mutex
}

type (
	watches struct {
		mu   sync.RWMutex
		wd   map[uint32]*watch
		path map[string]uint32
	}
	watch struct {
		wd      uint32
		mask    uint32
		evmask  EventKindMask
		path    string
		recurse bool
	}
	koekje struct {
		cookie uint32
		path   string
	}
)

func newWatches() *watches {
	return &watches{
		wd:   make(map[uint32]*watch),
		path: make(map[string]uint32),
	}
}

func (w *watches) len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.wd)
}

func (w *watches) remove(wd uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ww, ok := w.wd[wd]; ok {
		delete(w.path, ww.path)
	}
	delete(w.wd, wd)
}

func (w *watches) removePath(path string) ([]uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, recurse := recursivePath(path)
	wd, ok := w.path[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNonExistentWatch, path)
	}

	ww := w.wd[wd]
	if recurse && !ww.recurse {
		return nil, fmt.Errorf("can't use /... with non-recursive watch %q", path)
	}

	delete(w.path, path)
	delete(w.wd, wd)
	if !ww.recurse {
		return []uint32{wd}, nil
	}

	wds := make([]uint32, 0, 8)
	wds = append(wds, wd)
	for p, rwd := range w.path {
		if strings.HasPrefix(p, path+string(filepath.Separator)) {
			delete(w.path, p)
			delete(w.wd, rwd)
			wds = append(wds, rwd)
		}
	}
	return wds, nil
}

func (w *watches) byPath(path string) *watch {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wd[w.path[path]]
}

func (w *watches) byWd(wd uint32) *watch {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wd[wd]
}

func (w *watches) updatePath(path string, f func(*watch) (*watch, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var existing *watch
	wd, ok := w.path[path]
	if ok {
		existing = w.wd[wd]
	}

	upd, err := f(existing)
	if err != nil {
		return err
	}
	if upd != nil {
		w.wd[upd.wd] = upd
		w.path[upd.path] = upd.wd
		if upd.wd != wd {
			delete(w.wd, wd)
		}
	}
	return nil
}

// newInotifyBackend creates an inotify-backed backend pushing decoded events
// into buf. A zero-value logr.Logger (logr.Discard) is fine; a real one at
// V(2) enables the per-event raw-flag trace.
func newInotifyBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	fd, errno := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if fd == -1 {
		if errors.Is(errno, unix.EMFILE) {
			return nil, ErrMaxFilesWatch
		}
		return nil, errno
	}

	w := &inotifyBackend{
		buf:         buf,
		log:         log,
		fd:          fd,
		inotifyFile: os.NewFile(uintptr(fd), ""),
		watches:     newWatches(),
		done:        make(chan struct{}),
		doneResp:    make(chan struct{}),
	}

	go w.readEvents()
	return w, nil
}

func (w *inotifyBackend) isClosed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *inotifyBackend) Close() error {
	w.doneMu.Lock()
	if w.isClosed() {
		w.doneMu.Unlock()
		return nil
	}
	close(w.done)
	w.doneMu.Unlock()

	err := w.inotifyFile.Close()
	if err != nil {
		return err
	}
	<-w.doneResp
	w.buf.Close()
	return nil
}

func (w *inotifyBackend) Add(path string) error { return w.AddWith(path) }

func (w *inotifyBackend) AddWith(path string, opts ...addOpt) error {
	if w.isClosed() {
		return ErrClosed
	}
	w.log.V(1).Info("add", "path", path)

	with := getOptions(opts...)
	path, recurse := recursivePath(path)
	if recurse {
		return filepath.WalkDir(path, func(root string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				if root == path {
					return fmt.Errorf("notify: not a directory: %q", path)
				}
				return nil
			}
			if with.sendCreate && root != path {
				w.buf.Push(Event{Kind: Create(CreateFolder), Paths: []string{root}})
			}
			return w.add(root, with, true)
		})
	}
	return w.add(path, with, false)
}

func (w *inotifyBackend) add(path string, with withOpts, recurse bool) error {
	var flags uint32
	if with.noFollow {
		flags |= unix.IN_DONT_FOLLOW
	}
	mask := with.mask
	if mask == 0 {
		mask = MaskAll
	}
	if mask&MaskCreate != 0 {
		flags |= unix.IN_CREATE
	}
	if mask&(MaskModifyData|MaskModifyMetadata) != 0 {
		flags |= unix.IN_MODIFY
	}
	if mask&MaskRemove != 0 {
		flags |= unix.IN_DELETE | unix.IN_DELETE_SELF
	}
	if mask&MaskModifyName != 0 {
		flags |= unix.IN_MOVED_TO | unix.IN_MOVED_FROM | unix.IN_MOVE_SELF
	}
	if mask&MaskModifyMetadata != 0 {
		flags |= unix.IN_ATTRIB
	}
	if mask&MaskAccess != 0 {
		flags |= unix.IN_OPEN | unix.IN_ACCESS | unix.IN_CLOSE_WRITE | unix.IN_CLOSE_NOWRITE
	}
	return w.register(path, flags, recurse, mask)
}

func (w *inotifyBackend) register(path string, flags uint32, recurse bool, mask EventKindMask) error {
	return w.watches.updatePath(path, func(existing *watch) (*watch, error) {
		if existing != nil {
			flags |= existing.mask | unix.IN_MASK_ADD
		}

		wd, err := unix.InotifyAddWatch(w.fd, path, flags)
		if wd == -1 {
			if errors.Is(err, unix.ENOSPC) {
				if recurse {
					w.warnRecursiveLimit(path)
				}
				return nil, ErrMaxFilesWatch
			}
			return nil, err
		}

		if existing == nil {
			return &watch{wd: uint32(wd), path: path, mask: flags, evmask: mask, recurse: recurse}, nil
		}
		existing.wd = uint32(wd)
		existing.mask = flags
		existing.evmask = mask
		return existing, nil
	})
}

// warnRecursiveLimit logs why a recursive watch just hit ENOSPC. A process
// with CAP_SYS_ADMIN can raise fs.inotify.max_user_watches itself; without
// it the caller needs an administrator, so the two cases get different
// log lines.
func (w *inotifyBackend) warnRecursiveLimit(path string) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		w.log.V(1).Info("hit fs.inotify.max_user_watches", "path", path)
		return
	}
	if err := caps.Load(); err != nil {
		w.log.V(1).Info("hit fs.inotify.max_user_watches", "path", path)
		return
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		w.log.V(1).Info("hit fs.inotify.max_user_watches; this process can raise it", "path", path)
	} else {
		w.log.V(1).Info("hit fs.inotify.max_user_watches; raising it requires an administrator", "path", path)
	}
}

func (w *inotifyBackend) Remove(name string) error {
	if w.isClosed() {
		return nil
	}
	w.log.V(1).Info("remove", "path", name)
	return w.remove(filepath.Clean(name))
}

func (w *inotifyBackend) remove(name string) error {
	wds, err := w.watches.removePath(name)
	if err != nil {
		return err
	}
	for _, wd := range wds {
		if _, err := unix.InotifyRmWatch(w.fd, wd); err != nil {
			return err
		}
	}
	return nil
}

func (w *inotifyBackend) WatchList() []string {
	if w.isClosed() {
		return nil
	}
	entries := make([]string, 0, w.watches.len())
	w.watches.mu.RLock()
	for pathname := range w.watches.path {
		entries = append(entries, pathname)
	}
	w.watches.mu.RUnlock()
	return entries
}

func (w *inotifyBackend) readEvents() {
	defer close(w.doneResp)

	var buf [unix.SizeofInotifyEvent * 4096]byte
	for {
		if w.isClosed() {
			return
		}

		n, err := w.inotifyFile.Read(buf[:])
		switch {
		case errors.Unwrap(err) == os.ErrClosed:
			return
		case err != nil:
			w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
			continue
		}

		if n < unix.SizeofInotifyEvent {
			var rerr error
			if n == 0 {
				rerr = io.EOF
			} else {
				rerr = errors.New("notify: short read in readEvents()")
			}
			w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": rerr.Error()}})
			continue
		}

		var offset uint32
		for offset <= uint32(n-unix.SizeofInotifyEvent) {
			var (
				raw     = (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
				mask    = uint32(raw.Mask)
				nameLen = uint32(raw.Len)
				next    = func() { offset += unix.SizeofInotifyEvent + nameLen }
			)

			if mask&unix.IN_Q_OVERFLOW != 0 {
				w.buf.Push(Event{
					Kind:  Other("overflow"),
					Attrs: Attrs{"flag": FlagRescan},
				})
			}

			ww := w.watches.byWd(uint32(raw.Wd))

			var name string
			if ww != nil {
				name = ww.path
			}
			if nameLen > 0 {
				bytes := (*[unix.PathMax]byte)(unsafe.Pointer(&buf[offset+unix.SizeofInotifyEvent]))[:nameLen:nameLen]
				name += "/" + strings.TrimRight(string(bytes[0:nameLen]), "\000")
			}

			w.log.V(2).Info("raw event", "name", name, "mask", raw.Mask, "cookie", raw.Cookie)
			if w.log.V(2).Enabled() {
				internal.Debug(name, mask)
			}

			if mask&unix.IN_IGNORED != 0 {
				next()
				continue
			}

			if ww != nil && mask&unix.IN_DELETE_SELF == unix.IN_DELETE_SELF {
				w.watches.remove(ww.wd)
			}

			if ww != nil && mask&unix.IN_MOVE_SELF == unix.IN_MOVE_SELF {
				if ww.recurse {
					next()
					continue
				}
				if err := w.remove(ww.path); err != nil && !errors.Is(err, ErrNonExistentWatch) {
					w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
				}
			}

			if mask&unix.IN_DELETE_SELF != 0 && ww != nil {
				if _, ok := w.watches.path[filepath.Dir(ww.path)]; ok {
					next()
					continue
				}
			}

			ev, renamedFrom := w.newEvent(name, mask, raw.Cookie)
			if ww != nil && ww.recurse {
				isDir := mask&unix.IN_ISDIR == unix.IN_ISDIR
				if isDir {
					if _, isCreate := ev.Kind.IsCreate(); isCreate {
						if err := w.register(name, ww.mask, true, ww.evmask); err != nil {
							w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
						}
						if renamedFrom != "" {
							w.watches.mu.Lock()
							for k, child := range w.watches.wd {
								if k == ww.wd || child.path == name {
									continue
								}
								if strings.HasPrefix(child.path, renamedFrom) {
									child.path = strings.Replace(child.path, renamedFrom, name, 1)
									w.watches.wd[k] = child
								}
							}
							w.watches.mu.Unlock()
						}
					}
				}
			}

			w.buf.Push(ev)
			next()
		}
	}
}

func (w *inotifyBackend) newEvent(name string, mask, cookie uint32) (Event, string) {
	var kind EventKind
	switch {
	case mask&unix.IN_CREATE == unix.IN_CREATE:
		kind = Create(CreateAny)
	case mask&unix.IN_MOVED_TO == unix.IN_MOVED_TO:
		kind = Modify(ModifyName(RenameTo))
	case mask&(unix.IN_DELETE_SELF|unix.IN_DELETE) != 0:
		kind = Remove(RemoveAny)
	case mask&unix.IN_MODIFY == unix.IN_MODIFY:
		kind = Modify(ModifyData(DataContent))
	case mask&unix.IN_ATTRIB == unix.IN_ATTRIB:
		kind = Modify(ModifyMetadata(MetadataAny))
	case mask&(unix.IN_MOVE_SELF|unix.IN_MOVED_FROM) != 0:
		kind = Modify(ModifyName(RenameFrom))
	case mask&unix.IN_OPEN == unix.IN_OPEN:
		kind = Access(AccessOpen(AccessAny))
	case mask&unix.IN_ACCESS == unix.IN_ACCESS:
		kind = Access(AccessKind{v: accessAny})
	case mask&(unix.IN_CLOSE_WRITE|unix.IN_CLOSE_NOWRITE) != 0:
		kind = Access(AccessClose(AccessAny))
	default:
		kind = Any
	}

	e := Event{Kind: kind, Paths: []string{name}}

	var renamedFrom string
	if cookie != 0 {
		if mask&unix.IN_MOVED_FROM == unix.IN_MOVED_FROM {
			w.cookiesMu.Lock()
			w.cookies[w.cookieIndex] = koekje{cookie: cookie, path: name}
			w.cookieIndex++
			if w.cookieIndex > 9 {
				w.cookieIndex = 0
			}
			w.cookiesMu.Unlock()
			e.Attrs = Attrs{"tracker": fmt.Sprint(cookie)}
		} else if mask&unix.IN_MOVED_TO == unix.IN_MOVED_TO {
			w.cookiesMu.Lock()
			var prev string
			for _, c := range w.cookies {
				if c.cookie == cookie {
					prev = c.path
					break
				}
			}
			w.cookiesMu.Unlock()
			renamedFrom = prev
			e.Attrs = Attrs{"tracker": fmt.Sprint(cookie)}
			if prev != "" {
				e.Paths = []string{prev, name}
			}
		}
	}
	return e, renamedFrom
}

// xSupports reports whether this backend can ever deliver the given mask
// bits; inotify supports the full EventKindMask.
func (w *inotifyBackend) xSupports(mask EventKindMask) bool { return true }

func (w *inotifyBackend) state() {
	w.watches.mu.Lock()
	defer w.watches.mu.Unlock()
	for wd, ww := range w.watches.wd {
		w.log.Info("watch", "wd", wd, "recurse", ww.recurse, "path", ww.path)
	}
}
