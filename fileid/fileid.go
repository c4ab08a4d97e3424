// Package fileid implements a file-identity cache: a
// path → (device, file) map used to re-identify files across renames on
// backends whose native events don't carry a rename cookie (FSEvents,
// ReadDirectoryChangesW's partial case, and the polling backend).
//
// The (device, file) pair mirrors the Windows backend's inode{volume,
// index} watch key (backend_windows.go's getIno) and the polling backend's
// use of os.SameFile (itself a (dev, ino) comparison) when pairing a Remove
// with a subsequent Create during a rename. This package generalizes that
// ad-hoc, per-backend comparison into one cross-platform type, used by the
// debouncer and the FSEvents backend.
package fileid

import (
	"io/fs"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ID is the opaque, cross-platform file identity: a (device, file) pair.
// Equal IDs mean two paths name the same underlying filesystem object at the
// time each was observed. The OS is free to reuse an ID after deletion, so
// callers must not treat it as a permanent identifier — only as a
// correlation hint within one debounce/rescan cycle.
type ID struct {
	Device uint64
	File   uint64
}

// Valid reports whether id was actually populated (the zero ID is used as
// "unknown").
func (id ID) Valid() bool { return id != (ID{}) }

// defaultCacheSize bounds the LRU so an enormous recursive tree can't grow
// the identity map without bound; entries that are evicted just degrade
// rename-stitching for that one path back to an unpaired Create+Remove.
// Stitching is best-effort, not guaranteed.
const defaultCacheSize = 65536

// Cache maps path → ID, mutated only by the debouncer's single scheduler
// goroutine (or the polling backend's single scan goroutine), so it
// requires no internal locking of its own.
type Cache struct {
	byPath *lru.Cache[string, ID]
	byID   map[ID]string // first-seen path per ID; see hard-link note below.

	// FollowSymlinks controls whether AddPath walks through symlinks
	// during recursive enumeration.
	FollowSymlinks bool

	// MaxDepth bounds recursive enumeration to guard against symlink
	// loops when FollowSymlinks is set.
	MaxDepth int

	statID func(path string) (ID, error)
}

// DefaultMaxDepth is used when Cache.MaxDepth is left at zero.
const DefaultMaxDepth = 128

// New creates an empty Cache. statID is platform-specific (see
// fileid_unix.go / fileid_windows.go) and is injected here so this file
// stays build-tag free.
func New(statID func(path string) (ID, error)) *Cache {
	c, _ := lru.New[string, ID](defaultCacheSize)
	return &Cache{
		byPath:         c,
		byID:           make(map[ID]string),
		FollowSymlinks: true,
		MaxDepth:       DefaultMaxDepth,
		statID:         statID,
	}
}

// Lookup returns the cached ID for path, if any.
func (c *Cache) Lookup(path string) (ID, bool) {
	return c.byPath.Get(path)
}

// PathFor returns the first-seen path recorded for id, if any. When the same
// ID is observed under two paths simultaneously (e.g. hard links), the
// cache keeps the first-seen path and ignores the duplicate — rename
// stitching across hard-linked files is not guaranteed to be correct.
func (c *Cache) PathFor(id ID) (string, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Upsert records path→id, taking ownership of the first-seen path for id if
// it is new.
func (c *Cache) Upsert(path string, id ID) {
	if old, ok := c.byPath.Get(path); ok && old != id {
		c.removeID(old, path)
	}
	c.byPath.Add(path, id)
	if _, ok := c.byID[id]; !ok {
		c.byID[id] = path
	}
}

func (c *Cache) removeID(id ID, path string) {
	if cur, ok := c.byID[id]; ok && cur == path {
		delete(c.byID, id)
	}
}

// RemovePath discards path and, when recursive, every entry whose path has
// path as a directory prefix.
func (c *Cache) RemovePath(path string, recursive bool) {
	if id, ok := c.byPath.Peek(path); ok {
		c.removeID(id, path)
		c.byPath.Remove(path)
	}
	if !recursive {
		return
	}
	prefix := path + string(filepath.Separator)
	for _, p := range c.byPath.Keys() {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			if id, ok := c.byPath.Peek(p); ok {
				c.removeID(id, p)
			}
			c.byPath.Remove(p)
		}
	}
}

// AddPath walks root (recursively, if recursive is set, bounded by
// MaxDepth) and upserts an ID for every entry found.
func (c *Cache) AddPath(root string, recursive bool) error {
	if !recursive {
		id, err := c.statID(root)
		if err != nil {
			return err
		}
		c.Upsert(root, id)
		return nil
	}
	return c.walk(root, 0)
}

// walk recursively visits root and everything beneath it, upserting an ID
// for every entry, tracking depth explicitly so MaxDepth actually bounds
// the recursion — unlike filepath.WalkDir, which has no depth parameter and
// never descends into a symlinked directory regardless of FollowSymlinks.
func (c *Cache) walk(root string, depth int) error {
	if depth > c.MaxDepth {
		return nil
	}
	fi, err := os.Lstat(root)
	if err != nil {
		return nil // a transient per-entry error; skip, don't abort the walk.
	}
	if id, err := c.statID(root); err == nil {
		c.Upsert(root, id)
	}

	isSymlink := fi.Mode()&fs.ModeSymlink != 0
	if isSymlink {
		if !c.FollowSymlinks {
			return nil
		}
		target, err := os.Stat(root)
		if err != nil || !target.IsDir() {
			return nil
		}
	} else if !fi.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if err := c.walk(filepath.Join(root, e.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Rescan discards the whole cache and re-walks roots from scratch; used
// after a backend signals a dropped/overflowed event.
func (c *Cache) Rescan(roots []string, recursive bool) error {
	newCache, _ := lru.New[string, ID](defaultCacheSize)
	c.byPath = newCache
	c.byID = make(map[ID]string)
	for _, r := range roots {
		if err := c.AddPath(r, recursive); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of cached path entries.
func (c *Cache) Len() int { return c.byPath.Len() }
