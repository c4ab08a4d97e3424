package debounce

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/watchcore/notify"
	"github.com/watchcore/notify/internal/ztest"
)

func recvBatch(t *testing.T, ch <-chan []DebouncedEvent) []DebouncedEvent {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced batch")
		return nil
	}
}

// formatBatch renders a batch as one "path kind" line per event, for
// comparing against an expected batch with ztest.Diff.
func formatBatch(batch []DebouncedEvent) string {
	var sb strings.Builder
	for _, ev := range batch {
		fmt.Fprintf(&sb, "%s %s\n", ev.Path, ev.Kind)
	}
	return sb.String()
}

func TestMiniEmitsAnyAfterQuiescence(t *testing.T) {
	clock := newFakeClock()
	source := make(chan notify.Event, 4)
	m := NewMini(source, 100*time.Millisecond, withClock(clock))
	defer m.Stop()

	source <- notify.Event{Kind: notify.Create(notify.CreateFile), Paths: []string{"/tmp/a"}}
	time.Sleep(10 * time.Millisecond) // let the scheduler goroutine observe it

	// Advance past the timeout without sending any more events on /tmp/a:
	// the path should go quiet and emit a single Any.
	clock.Advance(30 * time.Millisecond)
	clock.Advance(30 * time.Millisecond)
	clock.Advance(30 * time.Millisecond)
	clock.Advance(30 * time.Millisecond)

	batch := recvBatch(t, m.Events())
	if d := ztest.Diff(formatBatch(batch), "/tmp/a ANY\n"); d != "" {
		t.Fatal(d)
	}
}

func TestMiniEmitsContinuousThenAny(t *testing.T) {
	clock := newFakeClock()
	source := make(chan notify.Event, 16)
	m := NewMini(source, 100*time.Millisecond, withClock(clock))
	defer m.Stop()

	source <- notify.Event{Kind: notify.Modify(notify.ModifyData(notify.DataContent)), Paths: []string{"/tmp/busy"}}
	time.Sleep(10 * time.Millisecond)

	// Keep the path alive across the timeout boundary by re-sending before
	// each tick; expect AnyContinuous once it's been pending >= timeout.
	for i := 0; i < 5; i++ {
		clock.Advance(25 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		source <- notify.Event{Kind: notify.Modify(notify.ModifyData(notify.DataContent)), Paths: []string{"/tmp/busy"}}
		time.Sleep(5 * time.Millisecond)
	}

	batch := recvBatch(t, m.Events())
	if len(batch) != 1 || batch[0].Kind != DebounceAnyContinuous {
		t.Fatalf("got %+v, want one AnyContinuous event", batch)
	}

	// Now let it go quiet; expect a final Any.
	for i := 0; i < 5; i++ {
		clock.Advance(25 * time.Millisecond)
	}
	batch = recvBatch(t, m.Events())
	if len(batch) != 1 || batch[0].Kind != DebounceAny {
		t.Fatalf("got %+v, want one Any event", batch)
	}
}

func TestMiniMaskDropsUnwantedKinds(t *testing.T) {
	clock := newFakeClock()
	source := make(chan notify.Event, 4)
	m := NewMini(source, 50*time.Millisecond, withClock(clock), WithMask(notify.MaskCreate))
	defer m.Stop()

	source <- notify.Event{Kind: notify.Access(notify.AccessRead), Paths: []string{"/tmp/ignored"}}
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 4; i++ {
		clock.Advance(15 * time.Millisecond)
	}

	select {
	case b := <-m.Events():
		t.Fatalf("masked-out event produced a batch: %+v", b)
	case <-time.After(100 * time.Millisecond):
		// expected: nothing emitted
	}
}
