package debounce

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/watchcore/notify"
)

// DebouncedKind distinguishes the two outcomes Mini ever emits for a path:
// a single settled change, or a notice that changes are still arriving.
type DebouncedKind uint8

const (
	// DebounceAny is emitted once a path has gone quiet for Timeout.
	DebounceAny DebouncedKind = iota
	// DebounceAnyContinuous is emitted for a path that has been receiving
	// events continuously for at least Timeout, without yet going quiet.
	DebounceAnyContinuous
)

func (k DebouncedKind) String() string {
	if k == DebounceAnyContinuous {
		return "ANY_CONTINUOUS"
	}
	return "ANY"
}

// DebouncedEvent is one settled or still-ongoing change, as emitted by Mini.
// Full emits its own, richer FullEvent instead.
type DebouncedEvent struct {
	Path      string
	Kind      DebouncedKind
	FirstSeen time.Time
}

// pathPhase is the per-path state machine: Absent → Pending → Continuous →
// Emitted → Absent. pathState existing in the map at all means "not
// Absent"; phase further distinguishes Pending from Continuous (whether
// AnyContinuous has fired yet for this run).
type pathPhase uint8

const (
	phasePending pathPhase = iota
	phaseContinuous
)

type pathState struct {
	phase     pathPhase
	firstSeen time.Time
	lastSeen  time.Time
}

// Mini is the path-level dedup debouncer: it drops everything about *what*
// changed and reports only *that* a path changed, once it settles.
type Mini struct {
	source <-chan notify.Event
	mask   notify.EventKindMask
	clock  Clock
	log    logr.Logger

	timeout  time.Duration
	tickRate time.Duration

	out  chan []DebouncedEvent
	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	paths  map[string]*pathState
}

// MiniOption configures NewMini.
type MiniOption func(*Mini)

// WithTickRate overrides the default tick rate of Timeout/4.
func WithTickRate(d time.Duration) MiniOption { return func(m *Mini) { m.tickRate = d } }

// WithMask restricts which event kinds feed the debouncer; anything else is
// dropped before it ever reaches the per-path state machine.
func WithMask(mask notify.EventKindMask) MiniOption {
	return func(m *Mini) { m.mask = mask }
}

// WithLogger attaches a logr.Logger to the scheduler goroutine.
func WithLogger(log logr.Logger) MiniOption { return func(m *Mini) { m.log = log } }

// withClock is unexported: only tests substitute a fake Clock.
func withClock(c Clock) MiniOption { return func(m *Mini) { m.clock = c } }

// NewMini wraps source (typically a notify.Watcher's Events channel) with
// path-level debouncing. The scheduler goroutine starts immediately; call
// Stop to release it.
func NewMini(source <-chan notify.Event, timeout time.Duration, opts ...MiniOption) *Mini {
	m := &Mini{
		source:  source,
		mask:    notify.MaskAll,
		clock:   RealClock,
		log:     logr.Discard(),
		timeout: timeout,
		out:     make(chan []DebouncedEvent),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		paths:   make(map[string]*pathState),
	}
	for _, o := range opts {
		o(m)
	}
	if m.tickRate <= 0 {
		m.tickRate = timeout / 4
	}
	go m.run()
	return m
}

// Events returns the channel of debounced batches, one slice per tick that
// had something to report.
func (m *Mini) Events() <-chan []DebouncedEvent { return m.out }

// Stop halts the scheduler goroutine and closes Events.
func (m *Mini) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

func (m *Mini) run() {
	defer close(m.out)
	defer close(m.done)

	next := m.clock.After(m.tickRate)
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.source:
			if !ok {
				return
			}
			m.observe(ev)
		case <-next:
			if batch := m.tick(); len(batch) > 0 {
				select {
				case m.out <- batch:
				case <-m.stop:
					return
				}
			}
			next = m.clock.After(m.tickRate)
		}
	}
}

func (m *Mini) observe(ev notify.Event) {
	if !m.mask.Allows(ev.Kind) {
		return
	}
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ev.Paths {
		ps, ok := m.paths[p]
		if !ok {
			m.paths[p] = &pathState{phase: phasePending, firstSeen: now, lastSeen: now}
			continue
		}
		ps.lastSeen = now
	}
}

func (m *Mini) tick() []DebouncedEvent {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []DebouncedEvent
	for path, ps := range m.paths {
		if now.Sub(ps.lastSeen) >= m.timeout {
			batch = append(batch, DebouncedEvent{Path: path, Kind: DebounceAny, FirstSeen: ps.firstSeen})
			delete(m.paths, path)
			continue
		}
		if ps.phase == phasePending && now.Sub(ps.firstSeen) >= m.timeout {
			ps.phase = phaseContinuous
			batch = append(batch, DebouncedEvent{Path: path, Kind: DebounceAnyContinuous, FirstSeen: ps.firstSeen})
		}
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	return batch
}
