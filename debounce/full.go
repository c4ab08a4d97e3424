package debounce

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/watchcore/notify"
	"github.com/watchcore/notify/fileid"
)

// FullEvent is Full's richer counterpart to DebouncedEvent: it keeps the
// original EventKind (so callers still see Create vs Modify vs Remove, not
// just "something happened") and, for a stitched rename, both halves.
type FullEvent struct {
	Paths     []string
	Kind      notify.EventKind
	FirstSeen time.Time
}

type fullPathState struct {
	firstSeen time.Time
	lastSeen  time.Time
	kind      notify.EventKind
	paths     []string
}

// pendingRemoval tracks a Remove waiting to see whether a matching Create
// (same FileId) arrives before the debounce timeout, in which case the pair
// is rewritten as Modify(Name(Both)).
type pendingRemoval struct {
	id        fileid.ID
	path      string
	firstSeen time.Time
	deadline  time.Time
}

// Full is the rename-stitched, identity-aware debouncer. Unlike Mini it
// needs to know the watched roots (to rebuild its IdentityMap on a rescan)
// and performs its own FileId lookups via the fileid package, the same way
// the FSEvents backend does, rather than trusting the source
// watcher to have a rename cookie.
type Full struct {
	source <-chan notify.Event
	mask   notify.EventKindMask
	clock  Clock
	log    logr.Logger

	timeout  time.Duration
	tickRate time.Duration

	identity *fileid.Cache
	roots    *roots

	out  chan []FullEvent
	errs chan error
	stop chan struct{}
	done chan struct{}

	mu        sync.Mutex
	paths     map[string]*fullPathState
	removals  map[string]*pendingRemoval // keyed by removed path
}

// FullOption configures NewFull.
type FullOption func(*Full)

// WithFullTickRate overrides the default tick rate of Timeout/4.
func WithFullTickRate(d time.Duration) FullOption { return func(f *Full) { f.tickRate = d } }

// WithFullMask restricts which event kinds are accumulated.
func WithFullMask(mask notify.EventKindMask) FullOption {
	return func(f *Full) { f.mask = mask }
}

// WithFullLogger attaches a logr.Logger to the scheduler goroutine.
func WithFullLogger(log logr.Logger) FullOption { return func(f *Full) { f.log = log } }

func withFullClock(c Clock) FullOption { return func(f *Full) { f.clock = c } }

// WithFullFollowSymlinks overrides the identity cache's default of
// following symlinks during AddRoot's walk.
func WithFullFollowSymlinks(follow bool) FullOption {
	return func(f *Full) { f.identity.FollowSymlinks = follow }
}

// statID is package-level so tests can swap it for a fake without touching
// the real filesystem.
var statID = fileid.Stat

// NewFull wraps source with identity-aware debouncing. Call AddRoot for
// every path the underlying notify.Watcher is watching so Full can populate
// its IdentityMap and rebuild it correctly on a rescan.
func NewFull(source <-chan notify.Event, timeout time.Duration, opts ...FullOption) *Full {
	f := &Full{
		source:   source,
		mask:     notify.MaskAll,
		clock:    RealClock,
		log:      logr.Discard(),
		timeout:  timeout,
		identity: fileid.New(statID),
		roots:    newRoots(),
		out:      make(chan []FullEvent),
		errs:     make(chan error, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		paths:    make(map[string]*fullPathState),
		removals: make(map[string]*pendingRemoval),
	}
	for _, o := range opts {
		o(f)
	}
	if f.tickRate <= 0 {
		f.tickRate = timeout / 4
	}
	go f.run()
	return f
}

// AddRoot registers path as a watched root, walking it to seed the
// IdentityMap. Call this for every path passed to the underlying
// notify.Watcher.Watch.
func (f *Full) AddRoot(path string, recursive bool) error {
	f.roots.add(path, recursive)
	return f.identity.AddPath(path, recursive)
}

// RemoveRoot discards path (and, if it was added recursively, everything
// beneath it) from the IdentityMap.
func (f *Full) RemoveRoot(path string) {
	f.roots.remove(path)
	f.identity.RemovePath(path, true)
}

// Events returns the channel of debounced batches.
func (f *Full) Events() <-chan []FullEvent { return f.out }

// Errors surfaces notify.ErrRescanRequired whenever the underlying stream
// signalled an overflow/rescan and Full has rebuilt its IdentityMap from
// scratch; until the consumer observes the next batch, cached state derived
// from paths should be treated as possibly stale.
func (f *Full) Errors() <-chan error { return f.errs }

// Stop halts the scheduler goroutine and closes Events/Errors.
func (f *Full) Stop() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

func (f *Full) run() {
	defer close(f.out)
	defer close(f.errs)
	defer close(f.done)

	next := f.clock.After(f.tickRate)
	for {
		select {
		case <-f.stop:
			return
		case ev, ok := <-f.source:
			if !ok {
				return
			}
			f.observe(ev)
		case <-next:
			if batch := f.tick(); len(batch) > 0 {
				select {
				case f.out <- batch:
				case <-f.stop:
					return
				}
			}
			next = f.clock.After(f.tickRate)
		}
	}
}

func (f *Full) observe(ev notify.Event) {
	if flag, ok := ev.Flag(); ok && flag == notify.FlagRescan {
		f.log.V(1).Info("rescan flag observed, rebuilding identity map")
		if err := f.roots.rescan(f.identity); err != nil {
			f.log.V(0).Info("rescan failed", "error", err.Error())
		}
		select {
		case f.errs <- notify.ErrRescanRequired:
		default:
		}
		return
	}
	if !f.mask.Allows(ev.Kind) {
		return
	}

	now := f.clock.Now()

	if _, isRemove := ev.Kind.IsRemove(); isRemove && len(ev.Paths) > 0 {
		f.observeRemove(ev, now)
		return
	}
	if _, isCreate := ev.Kind.IsCreate(); isCreate && len(ev.Paths) > 0 {
		if stitched, ok := f.observeCreate(ev, now); ok {
			f.record(stitched, now)
			return
		}
	}
	if mk, isModify := ev.Kind.IsModify(); isModify && len(ev.Paths) == 1 {
		if _, isRename := mk.IsName(); isRename {
			ev = f.observeRename(ev, now)
		}
	}

	f.record(ev, now)
}

// observeRename handles a single-path rename event with no cookie pairing it
// with its other half — the shape FSEvents' ItemRenamed and kqueue's
// NOTE_RENAME produce, since neither has a rename cookie the way inotify's
// IN_MOVED_FROM/IN_MOVED_TO does. It stats the event's path and looks its
// FileId up in the IdentityMap to recover the prior path, and if found
// rewrites ev into a two-path Modify(Name(Both)); otherwise ev is returned
// unchanged. That includes a path that no longer exists, such as the old
// name backend_kqueue.go reports for NOTE_RENAME.
func (f *Full) observeRename(ev notify.Event, now time.Time) notify.Event {
	path := ev.Paths[0]
	id, err := statID(path)
	if err != nil {
		return ev
	}
	prev, ok := f.identity.PathFor(id)
	f.identity.Upsert(path, id)
	if !ok || prev == path {
		return ev
	}
	return notify.Event{
		Kind:  notify.Modify(notify.ModifyName(notify.RenameBoth)),
		Paths: []string{prev, path},
	}
}

func (f *Full) observeRemove(ev notify.Event, now time.Time) {
	path := ev.Paths[0]
	id, _ := f.identity.Lookup(path)

	f.mu.Lock()
	f.removals[path] = &pendingRemoval{id: id, path: path, firstSeen: now, deadline: now.Add(f.timeout)}
	f.mu.Unlock()

	f.record(ev, now)
}

// observeCreate checks whether path's FileId matches a still-pending
// removal; if so it returns a synthesized Modify(Name(Both)) event pairing
// the two and clears both sides' bookkeeping.
func (f *Full) observeCreate(ev notify.Event, now time.Time) (notify.Event, bool) {
	path := ev.Paths[0]
	id, err := statID(path)
	if err != nil {
		return notify.Event{}, false
	}
	f.identity.Upsert(path, id)

	f.mu.Lock()
	defer f.mu.Unlock()
	for from, pending := range f.removals {
		if pending.id != id || !id.Valid() || now.After(pending.deadline) {
			continue
		}
		delete(f.removals, from)
		delete(f.paths, from)
		return notify.Event{
			Kind:  notify.Modify(notify.ModifyName(notify.RenameBoth)),
			Paths: []string{from, path},
		}, true
	}
	return notify.Event{}, false
}

func (f *Full) record(ev notify.Event, now time.Time) {
	key := ev.Paths[len(ev.Paths)-1]

	f.mu.Lock()
	defer f.mu.Unlock()
	ps, ok := f.paths[key]
	if !ok {
		f.paths[key] = &fullPathState{firstSeen: now, lastSeen: now, kind: ev.Kind, paths: ev.Paths}
		return
	}
	ps.lastSeen = now
	ps.kind = ev.Kind
	ps.paths = ev.Paths
}

func (f *Full) tick() []FullEvent {
	now := f.clock.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	var batch []FullEvent
	for key, ps := range f.paths {
		if now.Sub(ps.lastSeen) < f.timeout {
			continue
		}
		batch = append(batch, FullEvent{Paths: ps.paths, Kind: ps.kind, FirstSeen: ps.firstSeen})
		delete(f.paths, key)
		if _, isRemove := ps.kind.IsRemove(); isRemove {
			delete(f.removals, key)
		}
	}

	// Pending removals that never found a matching Create within the
	// timeout are plain removes, already queued above via f.paths; this
	// second pass only catches a removal whose Remove event itself aged
	// out of f.paths on an earlier tick (shouldn't normally happen, since
	// both are seeded together, but guards against clock skew between
	// the two maps).
	for path, pending := range f.removals {
		if now.Before(pending.deadline) {
			continue
		}
		delete(f.removals, path)
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	return batch
}
