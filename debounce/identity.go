package debounce

import (
	"sync"

	"github.com/watchcore/notify/fileid"
)

// roots is Full's bookkeeping of what to re-walk on a rescan: the set of
// paths AddRoot was called with, each with whether it was added recursively.
// fileid.Cache itself has no notion of "the watched roots", only of
// individual path entries, so this lives alongside it rather than inside it.
type roots struct {
	mu   sync.Mutex
	recu map[string]bool
}

func newRoots() *roots { return &roots{recu: make(map[string]bool)} }

func (r *roots) add(path string, recursive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recu[path] = recursive
}

func (r *roots) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recu, path)
}

func (r *roots) rescan(cache *fileid.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.recu))
	for p := range r.recu {
		paths = append(paths, p)
	}
	// Cache.Rescan assumes one recursive flag for every root; since
	// AddRoot lets callers mix recursive and non-recursive roots, rebuild
	// by hand instead of calling it directly.
	cache.Rescan(nil, false)
	for _, p := range paths {
		if err := cache.AddPath(p, r.recu[p]); err != nil {
			return err
		}
	}
	return nil
}
