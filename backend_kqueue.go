//go:build freebsd || openbsd || netbsd || dragonfly

package notify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/watchcore/notify/internal"
)

// kqueueBackend watches a set of paths via BSD kqueue's EVFILT_VNODE filter.
// macOS uses FSEvents instead (see backend_fsevents_darwin.go); kqueue there
// would need one open file descriptor per watched file, which doesn't scale
// to large trees the way FSEvents does.
//
// kqueue has no native directory-content or recursive-watch notion: it only
// reports that a watched vnode changed. So this backend diffs directory
// listings on NOTE_WRITE to synthesize Create events, and
// tracks per-path state (byDir/seen/byUser) to do so without extra syscalls
// per file.
type kqueueBackend struct {
	buf *RingBuffer
	log logr.Logger

	kq        int
	closepipe [2]int
	watches   *kwatches
	done      chan struct{}
	doneMu    sync.Mutex
}

type (
	kwatches struct {
		mu     sync.RWMutex
		wd     map[int]kwatch
		path   map[string]int
		byDir  map[string]map[int]struct{}
		seen   map[string]struct{}
		byUser map[string]struct{}
	}
	kwatch struct {
		wd       int
		name     string
		linkName string
		isDir    bool
		dirFlags uint32
	}
)

func newKwatches() *kwatches {
	return &kwatches{
		wd:     make(map[int]kwatch),
		path:   make(map[string]int),
		byDir:  make(map[string]map[int]struct{}),
		seen:   make(map[string]struct{}),
		byUser: make(map[string]struct{}),
	}
}

func (w *kwatches) listPaths(userOnly bool) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if userOnly {
		l := make([]string, 0, len(w.byUser))
		for p := range w.byUser {
			l = append(l, p)
		}
		return l
	}
	l := make([]string, 0, len(w.path))
	for p := range w.path {
		l = append(l, p)
	}
	return l
}

func (w *kwatches) watchesInDir(path string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	l := make([]string, 0, 4)
	for fd := range w.byDir[path] {
		info := w.wd[fd]
		if _, ok := w.byUser[info.name]; !ok {
			l = append(l, info.name)
		}
	}
	return l
}

func (w *kwatches) addUserWatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.byUser[path] = struct{}{}
}

func (w *kwatches) addLink(path string, fd int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.path[path] = fd
	w.seen[path] = struct{}{}
}

func (w *kwatches) add(path, linkPath string, fd int, isDir bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.path[path] = fd
	w.wd[fd] = kwatch{wd: fd, name: path, linkName: linkPath, isDir: isDir}
	parent := filepath.Dir(path)
	byDir, ok := w.byDir[parent]
	if !ok {
		byDir = make(map[int]struct{}, 1)
		w.byDir[parent] = byDir
	}
	byDir[fd] = struct{}{}
}

func (w *kwatches) byWd(fd int) (kwatch, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, ok := w.wd[fd]
	return info, ok
}

func (w *kwatches) byPath(path string) (kwatch, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, ok := w.wd[w.path[path]]
	return info, ok
}

func (w *kwatches) updateDirFlags(path string, flags uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fd := w.path[path]
	info := w.wd[fd]
	info.dirFlags = flags
	w.wd[fd] = info
}

func (w *kwatches) remove(fd int, path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	isDir := w.wd[fd].isDir
	delete(w.path, path)
	delete(w.byUser, path)
	parent := filepath.Dir(path)
	delete(w.byDir[parent], fd)
	if len(w.byDir[parent]) == 0 {
		delete(w.byDir, parent)
	}
	delete(w.wd, fd)
	delete(w.seen, path)
	return isDir
}

func (w *kwatches) markSeen(path string, exists bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if exists {
		w.seen[path] = struct{}{}
	} else {
		delete(w.seen, path)
	}
}

func (w *kwatches) seenBefore(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.seen[path]
	return ok
}

func newKqueueBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	kq, closepipe, err := newKqueue()
	if err != nil {
		return nil, err
	}
	w := &kqueueBackend{
		buf:       buf,
		log:       log,
		kq:        kq,
		closepipe: closepipe,
		done:      make(chan struct{}),
		watches:   newKwatches(),
	}
	go w.readEvents()
	return w, nil
}

// newKqueue creates the kernel event queue and a pipe registered on it so
// Close can interrupt a blocked kevent() wait without a poll timeout.
func newKqueue() (kq int, closepipe [2]int, err error) {
	kq, err = unix.Kqueue()
	if kq == -1 {
		return kq, closepipe, err
	}

	err = unix.Pipe(closepipe[:])
	if err != nil {
		unix.Close(kq)
		return kq, closepipe, err
	}
	unix.CloseOnExec(closepipe[0])
	unix.CloseOnExec(closepipe[1])

	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], closepipe[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	ok, err := unix.Kevent(kq, changes, nil, nil)
	if ok == -1 {
		unix.Close(kq)
		unix.Close(closepipe[0])
		unix.Close(closepipe[1])
		return kq, closepipe, err
	}
	return kq, closepipe, nil
}

func (w *kqueueBackend) isClosed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *kqueueBackend) Close() error {
	w.doneMu.Lock()
	if w.isClosed() {
		w.doneMu.Unlock()
		return nil
	}
	close(w.done)
	w.doneMu.Unlock()

	for _, name := range w.watches.listPaths(false) {
		w.Remove(name)
	}
	unix.Close(w.closepipe[1])
	w.buf.Close()
	return nil
}

func (w *kqueueBackend) Add(name string) error { return w.AddWith(name) }

func (w *kqueueBackend) AddWith(name string, opts ...addOpt) error {
	if w.isClosed() {
		return ErrClosed
	}
	w.log.V(1).Info("add", "path", name)

	with := getOptions(opts...)
	if with.noFollow || with.bufsize != 0 {
		return xErrUnsupported
	}

	w.watches.addUserWatch(name)
	_, err := w.addWatch(name, noteFlags(with.mask))
	return err
}

// Watch all events except NOTE_EXTEND, NOTE_LINK, NOTE_REVOKE.
const noteAllEvents = unix.NOTE_DELETE | unix.NOTE_WRITE | unix.NOTE_ATTRIB | unix.NOTE_RENAME

// noteFlags translates an EventKindMask into the NOTE_* bits kqueue can
// filter on at registration time, the kernel-level equivalent of inotify's
// own mask-to-IN_* translation in backend_inotify.go's add.
func noteFlags(mask EventKindMask) uint32 {
	var flags uint32
	if mask&MaskRemove != 0 {
		flags |= unix.NOTE_DELETE
	}
	if mask&(MaskModifyData|MaskCreate) != 0 {
		flags |= unix.NOTE_WRITE
	}
	if mask&MaskModifyMetadata != 0 {
		flags |= unix.NOTE_ATTRIB
	}
	if mask&MaskModifyName != 0 {
		flags |= unix.NOTE_RENAME
	}
	return flags
}

func (w *kqueueBackend) Remove(name string) error { return w.remove(name, true) }

func (w *kqueueBackend) remove(name string, unwatchFiles bool) error {
	if w.isClosed() {
		return nil
	}
	name = filepath.Clean(name)
	info, ok := w.watches.byPath(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonExistentWatch, name)
	}

	if err := w.register([]int{info.wd}, unix.EV_DELETE, 0); err != nil {
		return err
	}
	unix.Close(info.wd)
	isDir := w.watches.remove(info.wd, name)

	if unwatchFiles && isDir {
		for _, child := range w.watches.watchesInDir(name) {
			w.Remove(child)
		}
	}
	return nil
}

func (w *kqueueBackend) WatchList() []string {
	if w.isClosed() {
		return nil
	}
	return w.watches.listPaths(true)
}

func (w *kqueueBackend) addWatch(name string, flags uint32) (string, error) {
	if w.isClosed() {
		return "", ErrClosed
	}
	name = filepath.Clean(name)

	info, alreadyWatching := w.watches.byPath(name)
	if !alreadyWatching {
		fi, err := os.Lstat(name)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSocket == os.ModeSocket || fi.Mode()&os.ModeNamedPipe == os.ModeNamedPipe {
			return "", nil
		}
		if fi.Mode()&os.ModeSymlink == os.ModeSymlink {
			link, err := os.Readlink(name)
			if err != nil {
				return "", nil
			}
			_, alreadyWatching = w.watches.byPath(link)
			if alreadyWatching {
				w.watches.addLink(name, 0)
				return link, nil
			}
			info.linkName = name
			name = link
			fi, err = os.Lstat(name)
			if err != nil {
				return "", nil
			}
		}

		var err error
		for {
			info.wd, err = unix.Open(name, openMode, 0)
			if err == nil {
				break
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return "", err
		}
		info.isDir = fi.IsDir()
	}

	if err := w.register([]int{info.wd}, unix.EV_ADD|unix.EV_CLEAR|unix.EV_ENABLE, flags); err != nil {
		unix.Close(info.wd)
		return "", err
	}

	if !alreadyWatching {
		w.watches.add(name, info.linkName, info.wd, info.isDir)
	}

	if info.isDir {
		watchDir := (flags&unix.NOTE_WRITE) == unix.NOTE_WRITE &&
			(!alreadyWatching || (info.dirFlags&unix.NOTE_WRITE) != unix.NOTE_WRITE)
		w.watches.updateDirFlags(name, flags)
		if watchDir {
			if err := w.watchDirectoryFiles(name); err != nil {
				return "", err
			}
		}
	}
	return name, nil
}

func (w *kqueueBackend) readEvents() {
	defer func() {
		unix.Close(w.kq)
		unix.Close(w.closepipe[0])
	}()

	eventBuffer := make([]unix.Kevent_t, 10)
	for {
		kevents, err := w.read(eventBuffer)
		if err != nil && err != unix.EINTR {
			w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
		}

		for _, kevent := range kevents {
			wd := int(kevent.Ident)
			mask := uint32(kevent.Fflags)

			if wd == w.closepipe[0] {
				return
			}

			path, ok := w.watches.byWd(wd)
			w.log.V(2).Info("raw event", "name", path.name, "fflags", kevent.Fflags)
			if w.log.V(2).Enabled() {
				internal.Debug(path.name, &kevent)
			}
			if !ok && kevent.Ident == 0 {
				continue
			}

			ev := w.newEventFromMask(path.name, path.linkName, mask)
			_, isRemove := ev.Kind.IsRemove()
			isRename := false
			if mk, ok := ev.Kind.IsModify(); ok {
				if _, ok := mk.IsName(); ok {
					isRename = true
				}
			}

			if isRename || isRemove {
				w.remove(ev.Paths[0], false)
				w.watches.markSeen(ev.Paths[0], false)
			}

			_, isData := modifyDataOf(ev.Kind)
			if path.isDir && isData && !isRemove {
				w.dirChange(ev.Paths[0])
			} else {
				w.buf.Push(ev)
			}

			if isRemove {
				if path.isDir {
					fileDir := filepath.Clean(ev.Paths[0])
					if _, found := w.watches.byPath(fileDir); found {
						w.dirChange(fileDir)
					}
				} else if fi, err := os.Lstat(filepath.Clean(ev.Paths[0])); err == nil {
					w.sendCreateIfNew(filepath.Clean(ev.Paths[0]), fi)
				}
			}
		}
	}
}

// modifyDataOf reports whether kind is a data-change Modify.
func modifyDataOf(kind EventKind) (DataChange, bool) {
	mk, ok := kind.IsModify()
	if !ok {
		return DataChange{}, false
	}
	return mk.IsData()
}

func (w *kqueueBackend) newEventFromMask(name, linkName string, mask uint32) Event {
	if linkName != "" {
		name = linkName
	}
	var kind EventKind
	switch {
	case mask&unix.NOTE_DELETE == unix.NOTE_DELETE:
		kind = Remove(RemoveAny)
	case mask&unix.NOTE_RENAME == unix.NOTE_RENAME:
		kind = Modify(ModifyName(RenameAny))
	case mask&unix.NOTE_WRITE == unix.NOTE_WRITE:
		kind = Modify(ModifyData(DataContent))
	case mask&unix.NOTE_ATTRIB == unix.NOTE_ATTRIB:
		kind = Modify(ModifyMetadata(MetadataAny))
	default:
		kind = Any
	}
	return Event{Kind: kind, Paths: []string{name}}
}

func (w *kqueueBackend) watchDirectoryFiles(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, f := range files {
		path := filepath.Join(dirPath, f.Name())
		fi, err := f.Info()
		if err != nil {
			return fmt.Errorf("%q: %w", path, err)
		}
		cleanPath, err := w.internalWatch(path, fi)
		if err != nil {
			if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
				cleanPath = filepath.Clean(path)
			} else {
				return fmt.Errorf("%q: %w", path, err)
			}
		}
		w.watches.markSeen(cleanPath, true)
	}
	return nil
}

func (w *kqueueBackend) dirChange(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("notify.dirChange: %w", err)
	}
	for _, f := range files {
		fi, err := f.Info()
		if err != nil {
			return fmt.Errorf("notify.dirChange: %w", err)
		}
		if err := w.sendCreateIfNew(filepath.Join(dir, fi.Name()), fi); err != nil {
			if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
				return nil
			}
			return fmt.Errorf("notify.dirChange: %w", err)
		}
	}
	return nil
}

func (w *kqueueBackend) sendCreateIfNew(path string, fi os.FileInfo) error {
	if !w.watches.seenBefore(path) {
		kind := CreateFile
		if fi.IsDir() {
			kind = CreateFolder
		}
		w.buf.Push(Event{Kind: Create(kind), Paths: []string{path}})
	}
	path, err := w.internalWatch(path, fi)
	if err != nil {
		return err
	}
	w.watches.markSeen(path, true)
	return nil
}

func (w *kqueueBackend) internalWatch(name string, fi os.FileInfo) (string, error) {
	if fi.IsDir() {
		info, _ := w.watches.byPath(name)
		return w.addWatch(name, info.dirFlags|unix.NOTE_DELETE|unix.NOTE_RENAME)
	}
	return w.addWatch(name, noteAllEvents)
}

func (w *kqueueBackend) register(fds []int, flags int, fflags uint32) error {
	changes := make([]unix.Kevent_t, len(fds))
	for i, fd := range fds {
		unix.SetKevent(&changes[i], fd, unix.EVFILT_VNODE, flags)
		changes[i].Fflags = fflags
	}
	success, err := unix.Kevent(w.kq, changes, nil, nil)
	if success == -1 {
		return err
	}
	return nil
}

func (w *kqueueBackend) read(events []unix.Kevent_t) ([]unix.Kevent_t, error) {
	n, err := unix.Kevent(w.kq, nil, events, nil)
	if err != nil {
		return nil, err
	}
	return events[0:n], nil
}

func (w *kqueueBackend) xSupports(mask EventKindMask) bool {
	return mask&MaskAccess == 0
}
