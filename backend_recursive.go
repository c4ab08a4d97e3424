package notify

import (
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// recursiveBackend wraps a backend that has no native recursive-watch
// support (inotify, the BSD kqueue backend) and adds one by walking newly
// created directories and registering a watch on each. FSEvents and
// ReadDirectoryChangesW are natively recursive and never get wrapped this
// way; see recommendedRecursive in the recommended_*.go files for the
// platform-by-platform choice.
type recursiveBackend struct {
	b       backend
	inner   *RingBuffer // fed directly by b
	outer   *RingBuffer // what callers read from
	paths   map[string]withOpts
	pathsMu sync.Mutex
	done    chan struct{}
	doneMu  sync.Mutex
}

func newRecursiveBackend(outer *RingBuffer, mk func(*RingBuffer) (backend, error)) (backend, error) {
	inner := NewRingBuffer(0)
	b, err := mk(inner)
	if err != nil {
		return nil, err
	}

	w := &recursiveBackend{
		b:     b,
		inner: inner,
		outer: outer,
		paths: make(map[string]withOpts),
		done:  make(chan struct{}),
	}
	go w.pipeEvents()
	return w, nil
}

func (w *recursiveBackend) getOptions(path string) (withOpts, error) {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()
	for prefix, with := range w.paths {
		if strings.HasPrefix(path, prefix) {
			return with, nil
		}
	}
	return defaultOpts, ErrNonExistentWatch
}

func (w *recursiveBackend) pipeEvents() {
	defer w.outer.Close()
	for {
		ev, ok := w.inner.Pull()
		if !ok {
			return
		}
		w.outer.Push(ev)

		if _, isCreate := ev.Kind.IsCreate(); !isCreate || len(ev.Paths) == 0 {
			continue
		}
		path := ev.Paths[len(ev.Paths)-1]
		with, err := w.getOptions(path)
		if err != nil || !with.recurse {
			continue
		}

		first := true
		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && runtime.GOOS != "windows" {
				w.b.Add(p)
			}
			if !first && with.sendCreate {
				kind := CreateFile
				if d.IsDir() {
					kind = CreateFolder
				}
				w.outer.Push(Event{Kind: Create(kind), Paths: []string{p}})
			}
			first = false
			return nil
		})
	}
}

func (w *recursiveBackend) Close() error {
	w.doneMu.Lock()
	defer w.doneMu.Unlock()
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return w.b.Close()
}

func (w *recursiveBackend) Add(path string) error { return w.AddWith(path) }

func (w *recursiveBackend) AddWith(path string, opts ...addOpt) error {
	base, recurse := recursivePath(path)
	with := getOptions(opts...)
	with.recurse = recurse
	w.pathsMu.Lock()
	w.paths[base] = with
	w.pathsMu.Unlock()

	if !recurse {
		return w.b.AddWith(base, opts...)
	}

	return filepath.WalkDir(base, func(root string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.b.AddWith(root, opts...); err != nil {
				return err
			}
		}
		if with.sendCreate {
			kind := CreateFile
			if d.IsDir() {
				kind = CreateFolder
			}
			w.outer.Push(Event{Kind: Create(kind), Paths: []string{root}})
		}
		return nil
	})
}

func (w *recursiveBackend) Remove(path string) error {
	base, recurse := recursivePath(path)
	with, err := w.getOptions(base)
	if err != nil {
		return err
	}
	if recurse && !with.recurse {
		return Generic("can't use /... with non-recursive watch %q", base)
	}
	w.pathsMu.Lock()
	delete(w.paths, base)
	w.pathsMu.Unlock()

	if !with.recurse {
		return w.b.Remove(base)
	}
	return filepath.WalkDir(base, func(root string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.b.Remove(root)
		}
		return nil
	})
}

func (w *recursiveBackend) WatchList() []string { return w.b.WatchList() }

func (w *recursiveBackend) xSupports(mask EventKindMask) bool { return w.b.xSupports(mask) }
