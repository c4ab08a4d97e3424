package notify

import "sync"

// PollResult is the outcome of a non-blocking RingBuffer.Poll.
type PollResult uint8

const (
	// PollPending means no event is currently available but the buffer is
	// still open; try again later.
	PollPending PollResult = iota
	// PollReady means Poll returned an event.
	PollReady
	// PollDone means the buffer is closed and drained; no further events
	// will ever be available.
	PollDone
)

// defaultBufferLimit bounds a RingBuffer created without an explicit limit.
const defaultBufferLimit = 16384

// RingBuffer is the bounded, ordered, single-producer/single-consumer FIFO
// sitting between a backend's kernel-driven worker and the facade. Unlike a
// plain buffered channel, it bounds memory and makes overflow observable
// instead of blocking the producer or growing without limit.
//
// Push is non-blocking: once limit events are queued, further pushes are
// dropped silently. The producer is expected to follow up with its own
// overflow marker event rather than the buffer synthesizing one — it
// doesn't know the event's Attrs. Pull blocks until an event is available
// or the buffer is closed and drained.
type RingBuffer struct {
	mu     sync.Mutex
	notEmpty *sync.Cond
	q      []Event
	limit  int
	closed bool
}

// NewRingBuffer creates a RingBuffer with the given limit. A limit of 0 uses
// defaultBufferLimit.
func NewRingBuffer(limit int) *RingBuffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	b := &RingBuffer{limit: limit}
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Push appends e if the buffer is open and below its limit; otherwise it is
// dropped silently, and Push reports false so the caller can decide whether
// to surface an overflow marker.
func (b *RingBuffer) Push(e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.q) >= b.limit {
		return false
	}
	b.q = append(b.q, e)
	b.notEmpty.Signal()
	return true
}

// Pull blocks until an event is available, returning (Event{}, false) only
// once the buffer is closed and fully drained.
func (b *RingBuffer) Pull() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.q) == 0 && !b.closed {
		b.notEmpty.Wait()
	}
	if len(b.q) == 0 {
		return Event{}, false
	}
	e := b.q[0]
	b.q = b.q[1:]
	return e, true
}

// Poll is the non-blocking variant of Pull.
func (b *RingBuffer) Poll() (Event, PollResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.q) > 0 {
		e := b.q[0]
		b.q = b.q[1:]
		return e, PollReady
	}
	if b.closed {
		return Event{}, PollDone
	}
	return Event{}, PollPending
}

// Close marks the buffer terminal: no further Push will succeed, but Pull
// and Poll continue to drain whatever is already queued before reporting
// end-of-stream. Close is idempotent.
func (b *RingBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notEmpty.Broadcast()
}

// Len reports the number of events currently queued.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.q)
}
