package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestPollBackend(t *testing.T) (*pollBackend, *RingBuffer) {
	t.Helper()
	buf := NewRingBuffer(0)
	b, err := newPollBackend(buf, logr.Discard())
	if err != nil {
		t.Fatalf("newPollBackend: %s", err)
	}
	pb := b.(*pollBackend)
	pb.Interval = 20 * time.Millisecond
	return pb, buf
}

func TestPollBackendDetectsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	pb, buf := newTestPollBackend(t)
	defer pb.Close()

	if err := pb.AddWith(dir); err != nil {
		t.Fatalf("AddWith: %s", err)
	}

	target := filepath.Join(dir, "new")
	os.WriteFile(target, []byte("x"), 0o644)

	ev := waitForKind(t, buf, func(e Event) bool {
		_, ok := e.Kind.IsCreate()
		return ok && e.HasPath(target)
	})
	if ev.Paths[0] != target {
		t.Fatalf("got %v, want path %q", ev, target)
	}

	os.Remove(target)
	waitForKind(t, buf, func(e Event) bool {
		_, ok := e.Kind.IsRemove()
		return ok && e.HasPath(target)
	})
}

func TestPollBackendCompareContentsCatchesStableModTime(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "f")
	if err := os.WriteFile(target, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	pb, buf := newTestPollBackend(t)
	defer pb.Close()
	pb.CompareContents = true

	if err := pb.AddWith(dir); err != nil {
		t.Fatalf("AddWith: %s", err)
	}

	// Rewrite with content of the same length so size/mtime comparisons
	// alone might miss it on a coarse-resolution filesystem; the content
	// hash must still catch this.
	mtime := mustModTime(t, target)
	os.WriteFile(target, []byte("two"), 0o644)
	os.Chtimes(target, mtime, mtime)

	waitForKind(t, buf, func(e Event) bool {
		mk, isModify := e.Kind.IsModify()
		if !isModify {
			return false
		}
		_, isData := mk.IsData()
		return isData && e.HasPath(target)
	})
}

func TestPollBackendManualScanOnce(t *testing.T) {
	dir := t.TempDir()
	pb, buf := newTestPollBackend(t)
	defer pb.Close()
	pb.Manual = true

	if err := pb.AddWith(dir); err != nil {
		t.Fatalf("AddWith: %s", err)
	}

	target := filepath.Join(dir, "manual")
	os.WriteFile(target, []byte("x"), 0o644)

	if err := pb.ScanOnce(); err != nil {
		t.Fatalf("ScanOnce: %s", err)
	}

	waitForKind(t, buf, func(e Event) bool {
		_, ok := e.Kind.IsCreate()
		return ok && e.HasPath(target)
	})
}

func mustModTime(t *testing.T, path string) time.Time {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi.ModTime()
}

func waitForKind(t *testing.T, buf *RingBuffer, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a matching event")
		default:
		}
		ev, res := buf.Poll()
		if res == PollReady {
			if match(ev) {
				return ev
			}
			continue
		}
		time.Sleep(10 * time.Millisecond)
	}
}
