package notify

import "testing"

func TestRingBufferFIFO(t *testing.T) {
	b := NewRingBuffer(4)
	for i := 0; i < 4; i++ {
		if !b.Push(Event{Kind: Any, Paths: []string{string(rune('a' + i))}}) {
			t.Fatalf("push %d: want true", i)
		}
	}

	// Buffer is now at its limit; further pushes are dropped.
	if b.Push(Event{Kind: Any, Paths: []string{"overflow"}}) {
		t.Fatal("push past limit: want false")
	}

	for i := 0; i < 4; i++ {
		ev, res := b.Poll()
		if res != PollReady {
			t.Fatalf("poll %d: want PollReady", i)
		}
		want := string(rune('a' + i))
		if ev.Paths[0] != want {
			t.Fatalf("poll %d: got %q, want %q", i, ev.Paths[0], want)
		}
	}

	if _, res := b.Poll(); res != PollPending {
		t.Fatalf("poll on empty open buffer: got %v, want PollPending", res)
	}
}

func TestRingBufferCloseDrains(t *testing.T) {
	b := NewRingBuffer(0)
	b.Push(Event{Kind: Any, Paths: []string{"x"}})
	b.Push(Event{Kind: Any, Paths: []string{"y"}})
	b.Close()

	if b.Push(Event{Kind: Any, Paths: []string{"z"}}) {
		t.Fatal("push after close: want false")
	}

	ev, ok := b.Pull()
	if !ok || ev.Paths[0] != "x" {
		t.Fatalf("pull after close: got %v, %v", ev, ok)
	}
	ev, ok = b.Pull()
	if !ok || ev.Paths[0] != "y" {
		t.Fatalf("pull after close: got %v, %v", ev, ok)
	}

	if _, ok := b.Pull(); ok {
		t.Fatal("pull on drained closed buffer: want false")
	}

	// Close is idempotent.
	b.Close()
}

func TestRingBufferPullBlocksUntilPush(t *testing.T) {
	b := NewRingBuffer(0)
	done := make(chan Event, 1)
	go func() {
		ev, ok := b.Pull()
		if ok {
			done <- ev
		}
		close(done)
	}()

	b.Push(Event{Kind: Any, Paths: []string{"late"}})

	ev, ok := <-done
	if !ok || ev.Paths[0] != "late" {
		t.Fatalf("got %v, %v", ev, ok)
	}
}
