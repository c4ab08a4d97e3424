//go:build darwin

package notify

import (
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsevents"
	"github.com/go-logr/logr"

	"github.com/watchcore/notify/fileid"
)

// fsEventsBackend watches via macOS's FSEvents API (github.com/fsnotify/fsevents),
// which is natively recursive per watched root and coalesces bursts with its
// own Latency, unlike kqueue which needs one fd per watched vnode. FSEvents
// doesn't report a rename's old/new pairing directly either (just
// ItemRenamed on each half), so this backend stitches the pair by file
// identity via the fileid cache, as the polling backend does with os.SameFile.
type fsEventsBackend struct {
	buf *RingBuffer
	log logr.Logger

	mu       sync.Mutex
	stream   *fsevents.EventStream
	roots    map[string]struct{}
	started  bool
	closed   bool
	identity *fileid.Cache

	// mask is applied as a post-translation filter in readEvents. FSEvents
	// has one stream shared across every watched root, so unlike inotify
	// there's no per-root kernel-level mask to push down; the most recent
	// AddWith's mask applies backend-wide.
	mask EventKindMask
}

func newFSEventsBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	es := &fsevents.EventStream{
		Paths:   nil,
		Latency: 100 * time.Millisecond,
		Device:  -1,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	w := &fsEventsBackend{
		buf:      buf,
		log:      log,
		stream:   es,
		roots:    make(map[string]struct{}),
		identity: fileid.New(fileid.Stat),
		mask:     MaskAll,
	}
	go w.readEvents()
	return w, nil
}

func (w *fsEventsBackend) Add(path string) error { return w.AddWith(path) }

func (w *fsEventsBackend) AddWith(path string, opts ...addOpt) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	with := getOptions(opts...)
	if with.noFollow || with.bufsize != 0 {
		return xErrUnsupported
	}
	w.mask = with.mask

	path, _ = recursivePath(path) // FSEvents is always recursive per root.
	if _, ok := w.roots[path]; ok {
		return nil
	}

	var stat syscall.Stat_t
	if err := syscall.Lstat(path, &stat); err != nil {
		return pathErr("add", path, err)
	}

	w.roots[path] = struct{}{}
	w.stream.Paths = append(w.stream.Paths, path)
	if !w.started {
		w.stream.Device = stat.Dev
		w.stream.Start()
		w.started = true
	} else {
		w.stream.Restart()
	}

	w.identity.AddPath(path, true)
	return nil
}

func (w *fsEventsBackend) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	path, _ = recursivePath(path)
	if _, ok := w.roots[path]; !ok {
		return ErrNonExistentWatch
	}
	delete(w.roots, path)
	w.identity.RemovePath(path, true)

	paths := make([]string, 0, len(w.roots))
	for p := range w.roots {
		paths = append(paths, p)
	}
	w.stream.Paths = paths
	if len(paths) == 0 {
		w.stream.Stop()
		w.started = false
	} else {
		w.stream.Restart()
	}
	return nil
}

func (w *fsEventsBackend) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	l := make([]string, 0, len(w.roots))
	for p := range w.roots {
		l = append(l, p)
	}
	return l
}

func (w *fsEventsBackend) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.started {
		w.stream.Stop()
	}
	w.buf.Close()
	return nil
}

func (w *fsEventsBackend) xSupports(mask EventKindMask) bool {
	return mask&MaskAccess == 0
}

// setFollowSymlinks implements identityConfigurable.
func (w *fsEventsBackend) setFollowSymlinks(follow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.identity.FollowSymlinks = follow
}

func (w *fsEventsBackend) readEvents() {
	for batch := range w.stream.Events {
		for _, e := range batch {
			ev := w.toEvent(e)
			if _, isOther := ev.Kind.IsOther(); !isOther {
				w.mu.Lock()
				mask := w.mask
				w.mu.Unlock()
				if !mask.Allows(ev.Kind) {
					continue
				}
			}
			w.buf.Push(ev)
		}
	}
}

func (w *fsEventsBackend) toEvent(e fsevents.Event) Event {
	f := e.Flags

	if f&fsevents.MustScanSubDirs != 0 {
		return Event{Kind: Other("overflow"), Paths: []string{e.Path}, Attrs: Attrs{"flag": FlagRescan}}
	}
	if f&fsevents.RootChanged != 0 {
		return Event{Kind: Other("root-changed"), Paths: []string{e.Path}}
	}

	var kind EventKind
	switch {
	case f&fsevents.ItemRemoved != 0:
		k := RemoveFile
		if f&fsevents.ItemIsDir != 0 {
			k = RemoveFolder
		}
		kind = Remove(k)
	case f&fsevents.ItemCreated != 0:
		k := CreateFile
		if f&fsevents.ItemIsDir != 0 {
			k = CreateFolder
		}
		kind = Create(k)
	case f&fsevents.ItemRenamed != 0:
		kind = Modify(ModifyName(RenameAny))
	case f&fsevents.ItemModified != 0:
		kind = Modify(ModifyData(DataContent))
	case f&(fsevents.ItemInodeMetaMod|fsevents.ItemXattrMod|fsevents.ItemChangeOwner|fsevents.ItemFinderInfoMod) != 0:
		kind = Modify(ModifyMetadata(MetadataAny))
	default:
		kind = Any
	}

	ev := Event{Kind: kind, Paths: []string{e.Path}}

	if mk, isModify := kind.IsModify(); isModify {
		if _, isRename := mk.IsName(); isRename {
			if id, err := fileid.Stat(e.Path); err == nil && id.Valid() {
				if prev, ok := w.identity.PathFor(id); ok && prev != e.Path {
					ev.Paths = []string{prev, e.Path}
					ev.Kind = Modify(ModifyName(RenameBoth))
				}
				w.identity.Upsert(e.Path, id)
			}
		}
	}
	return ev
}
