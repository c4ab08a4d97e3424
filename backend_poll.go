package notify

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
)

// pollBackend is the portable fallback watcher: it snapshots the watched
// trees on an interval and diffs consecutive snapshots. It is the only
// backend available on platforms with no native notification mechanism
// (network filesystems, exotic GOOS values), generalized here into every
// platform's fallback rather than being tied to one.
//
// Content changes that don't move mtime (some network filesystems truncate
// mtime resolution) are caught by hashing file content with xxhash when
// CompareContents is set; this trades CPU for correctness on filesystems
// where mtime alone isn't trustworthy.
type pollBackend struct {
	buf *RingBuffer
	log logr.Logger

	// Interval between scans. A scan completing is itself observable,
	// separate from the filesystem events it discovers — that's surfaced
	// via scanDone.
	Interval time.Duration

	// CompareContents enables the xxhash content comparison fallback.
	CompareContents bool

	// FollowSymlinks controls whether a recursive scan descends into
	// symlinked directories. Default true.
	FollowSymlinks bool

	// Manual makes the background loop skip its scans; the caller drives scans by
	// calling ScanOnce instead, so Watcher.Poll performs exactly one scan
	// cycle synchronously.
	Manual bool

	// mask is applied as a post-translation filter in diff. Every watched
	// path shares one mask backend-wide, the same simplification
	// backend_fsevents_darwin.go makes for the same reason: one scan loop
	// covers every watch, there's no native per-path kernel filter to push
	// a narrower mask down into.
	mask EventKindMask

	mu       sync.Mutex
	watches  map[string]bool // path -> recursive
	files    map[string]pollSnapshot
	closed   bool
	started  bool
	done     chan struct{}
	scanDone chan struct{}

	// onScan, if set, is called once per path discovered during a watch's
	// initial AddWith scan — a bootstrap sink kept separate from the
	// regular event stream so a caller can tell "this is what was
	// already there" from "this just changed".
	onScan func(path string)
}

type pollSnapshot struct {
	info os.FileInfo
	hash uint64 // zero unless CompareContents and info is a regular file
}

const defaultPollInterval = 200 * time.Millisecond

func newPollBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	w := &pollBackend{
		buf:            buf,
		log:            log,
		Interval:       defaultPollInterval,
		FollowSymlinks: true,
		mask:           MaskAll,
		watches:        make(map[string]bool),
		files:          make(map[string]pollSnapshot),
		done:           make(chan struct{}),
		scanDone:       make(chan struct{}, 1),
	}
	return w, nil
}

// startLoop launches the scan goroutine exactly once, on the first
// AddWith. Deferring this past construction (rather than starting it in
// newPollBackend) gives callers a window to set Interval/CompareContents/
// Manual before the first tick fires, without needing a lock around every
// field.
func (w *pollBackend) startLoop() {
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

func (w *pollBackend) Add(name string) error { return w.AddWith(name) }

func (w *pollBackend) AddWith(name string, opts ...addOpt) error {
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

	w.startLoop()
	path, recurse := recursivePath(name)
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	snap, err := w.scanPath(path, recurse)
	if err != nil {
		return err
	}
	for k, v := range snap {
		w.files[k] = v
		if w.onScan != nil {
			w.onScan(k)
		}
	}
	w.watches[path] = recurse
	return nil
}

func (w *pollBackend) Remove(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	path, _ := recursivePath(name)
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, ok := w.watches[path]; !ok {
		return ErrNonExistentWatch
	}
	delete(w.watches, path)
	delete(w.files, path)
	prefix := path + string(filepath.Separator)
	for p := range w.files {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(w.files, p)
		}
	}
	return nil
}

func (w *pollBackend) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	l := make([]string, 0, len(w.watches))
	for p := range w.watches {
		l = append(l, p)
	}
	return l
}

func (w *pollBackend) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
	w.buf.Close()
	return nil
}

func (w *pollBackend) xSupports(mask EventKindMask) bool {
	return mask&MaskAccess == 0
}

// Configure applies Config-level settings under lock; Watcher.Configure is
// the only caller.
func (w *pollBackend) Configure(compareContents, followSymlinks bool, interval *time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CompareContents = compareContents
	w.FollowSymlinks = followSymlinks
	if interval == nil {
		w.Manual = true
	} else {
		w.Manual = false
		w.Interval = *interval
	}
}

func (w *pollBackend) scanPath(path string, recurse bool) (map[string]pollSnapshot, error) {
	out := make(map[string]pollSnapshot)
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	out[path] = w.snapshotOf(path, fi)
	if !fi.IsDir() || !recurse {
		return out, nil
	}
	w.walk(path, out, 0)
	return out, nil
}

// walk recursively fills out with a snapshot of every entry beneath dir.
// Unlike filepath.Walk (which never descends into a symlinked directory),
// this follows symlinked directories when FollowSymlinks is set, bounded by
// maxScanDepth to guard against symlink loops.
func (w *pollBackend) walk(dir string, out map[string]pollSnapshot, depth int) {
	if depth > maxScanDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		fi, err := os.Lstat(p)
		if err != nil {
			continue
		}
		isSymlink := fi.Mode()&os.ModeSymlink != 0
		out[p] = w.snapshotOf(p, fi)

		switch {
		case fi.IsDir():
			w.walk(p, out, depth+1)
		case isSymlink && w.FollowSymlinks:
			if target, err := os.Stat(p); err == nil && target.IsDir() {
				w.walk(p, out, depth+1)
			}
		}
	}
}

// maxScanDepth bounds recursive enumeration the same way fileid.DefaultMaxDepth
// bounds the identity cache's walk.
const maxScanDepth = 128

func (w *pollBackend) snapshotOf(path string, fi os.FileInfo) pollSnapshot {
	s := pollSnapshot{info: fi}
	if w.CompareContents && fi.Mode().IsRegular() {
		if h, err := hashFile(path); err == nil {
			s.hash = h
		}
	}
	return s
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return h.Sum64(), nil
}

func (w *pollBackend) loop() {
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.mu.Lock()
			manual := w.Manual
			w.mu.Unlock()
			if manual {
				continue
			}
			w.scan()
			select {
			case w.scanDone <- struct{}{}:
			default:
			}
		}
	}
}

// ScanOnce performs exactly one scan cycle synchronously; it's the engine
// behind Watcher.Poll in manual-polling mode.
func (w *pollBackend) ScanOnce() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()
	w.scan()
	return nil
}

func (w *pollBackend) scan() {
	w.mu.Lock()
	prev := w.files
	next := make(map[string]pollSnapshot)
	for path, recurse := range w.watches {
		snap, err := w.scanPath(path, recurse)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			w.mu.Unlock()
			w.buf.Push(Event{Kind: Other("error"), Paths: []string{path}, Attrs: Attrs{"error": err.Error()}})
			w.mu.Lock()
			continue
		}
		for k, v := range snap {
			next[k] = v
		}
	}
	w.files = next
	w.mu.Unlock()

	w.diff(prev, next)
}

// push applies the backend-wide mask (see the mask field doc) before
// forwarding ev to the ring buffer.
func (w *pollBackend) push(ev Event) {
	w.mu.Lock()
	mask := w.mask
	w.mu.Unlock()
	if !mask.Allows(ev.Kind) {
		return
	}
	w.buf.Push(ev)
}

func (w *pollBackend) diff(prev, next map[string]pollSnapshot) {
	creates := make(map[string]pollSnapshot)
	removes := make(map[string]pollSnapshot)

	for path, snap := range prev {
		if _, ok := next[path]; !ok {
			removes[path] = snap
		}
	}
	for path, snap := range next {
		old, ok := prev[path]
		if !ok {
			creates[path] = snap
			continue
		}
		if old.info.IsDir() {
			continue
		}
		changed := old.info.ModTime() != snap.info.ModTime() || old.info.Size() != snap.info.Size()
		if w.CompareContents && old.hash != snap.hash {
			changed = true
		}
		if changed {
			w.push(Event{Kind: Modify(ModifyData(DataContent)), Paths: []string{path}})
		}
		if old.info.Mode() != snap.info.Mode() {
			w.push(Event{Kind: Modify(ModifyMetadata(MetadataPermissions)), Paths: []string{path}})
		}
	}

	for path1, info1 := range removes {
		for path2, info2 := range creates {
			if os.SameFile(info1.info, info2.info) && info1.info.IsDir() == info2.info.IsDir() {
				w.push(Event{Kind: Modify(ModifyName(RenameBoth)), Paths: []string{path1, path2}})
				delete(removes, path1)
				delete(creates, path2)
				break
			}
		}
	}

	for path, snap := range creates {
		kind := CreateFile
		if snap.info.IsDir() {
			kind = CreateFolder
		}
		w.push(Event{Kind: Create(kind), Paths: []string{path}})
	}
	for path, snap := range removes {
		kind := RemoveFile
		if snap.info.IsDir() {
			kind = RemoveFolder
		}
		w.push(Event{Kind: Remove(kind), Paths: []string{path}})
	}
}
