package debounce

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/watchcore/notify"
)

func recvFullBatch(t *testing.T, ch <-chan []FullEvent) []FullEvent {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced batch")
		return nil
	}
}

func TestFullStitchesRenameWithoutCookie(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	clock := newFakeClock()
	source := make(chan notify.Event, 4)
	f := NewFull(source, 100*time.Millisecond, withFullClock(clock))
	defer f.Stop()

	if err := f.AddRoot(dir, true); err != nil {
		t.Fatal(err)
	}

	// Simulate the backend's view: a bare Remove on the old path, then a
	// bare Create on the new path, as FSEvents/polling would report a
	// rename with no cookie.
	source <- notify.Event{Kind: notify.Remove(notify.RemoveFile), Paths: []string{a}}
	time.Sleep(10 * time.Millisecond)

	if err := os.Rename(a, b); err != nil {
		t.Fatal(err)
	}
	source <- notify.Event{Kind: notify.Create(notify.CreateFile), Paths: []string{b}}
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		clock.Advance(25 * time.Millisecond)
	}

	batch := recvFullBatch(t, f.Events())
	if len(batch) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(batch), batch)
	}
	ev := batch[0]
	rm, ok := ev.Kind.IsModify()
	if !ok {
		t.Fatalf("got kind %v, want Modify", ev.Kind)
	}
	if mode, ok := rm.IsName(); !ok || mode != notify.RenameBoth {
		t.Fatalf("got modify kind %v, want Name(Both)", rm)
	}
	if len(ev.Paths) != 2 || ev.Paths[0] != a || ev.Paths[1] != b {
		t.Fatalf("got paths %v, want [%q %q]", ev.Paths, a, b)
	}
}

func TestFullUnmatchedRemoveStaysRemove(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	source := make(chan notify.Event, 4)
	f := NewFull(source, 50*time.Millisecond, withFullClock(clock))
	defer f.Stop()

	if err := f.AddRoot(dir, true); err != nil {
		t.Fatal(err)
	}

	gone := filepath.Join(dir, "gone")
	source <- notify.Event{Kind: notify.Remove(notify.RemoveFile), Paths: []string{gone}}
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		clock.Advance(15 * time.Millisecond)
	}

	batch := recvFullBatch(t, f.Events())
	if len(batch) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(batch), batch)
	}
	if _, ok := batch[0].Kind.IsRemove(); !ok {
		t.Fatalf("got kind %v, want Remove", batch[0].Kind)
	}
}

func TestFullRescanFlagRebuildsIdentityMap(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "seed"), []byte("x"), 0o644)

	clock := newFakeClock()
	source := make(chan notify.Event, 4)
	f := NewFull(source, 50*time.Millisecond, withFullClock(clock))
	defer f.Stop()

	if err := f.AddRoot(dir, true); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "added-after-watch"), []byte("y"), 0o644)

	source <- notify.Event{Kind: notify.Other("overflow"), Paths: []string{dir}, Attrs: notify.Attrs{"flag": notify.FlagRescan}}

	select {
	case err := <-f.Errors():
		if err != notify.ErrRescanRequired {
			t.Fatalf("got error %v, want ErrRescanRequired", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rescan-required signal")
	}

	if _, ok := f.identity.Lookup(filepath.Join(dir, "added-after-watch")); !ok {
		t.Fatal("rescan did not pick up the file created after the initial walk")
	}
}
