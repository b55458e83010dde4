package receiver

import "testing"

func TestBufferOrdersByDeadline(t *testing.T) {
	b := newPlaybackBuffer(50)

	for _, d := range []int64{30, 10, 50, 20, 40} {
		b.push(d, []byte{byte(d)})
	}

	want := []int64{10, 20, 30, 40, 50}
	for _, d := range want {
		e, ok := b.pop()
		if !ok {
			t.Fatal("pop on non-empty buffer failed")
		}
		if e.deadline != d {
			t.Errorf("popped deadline %d, want %d", e.deadline, d)
		}
	}

	if _, ok := b.pop(); ok {
		t.Error("pop on empty buffer succeeded")
	}
}

func TestBufferPeekDoesNotRemove(t *testing.T) {
	b := newPlaybackBuffer(50)
	b.push(7, nil)

	if e, ok := b.peek(); !ok || e.deadline != 7 {
		t.Fatalf("peek = (%v, %v)", e, ok)
	}
	if b.len() != 1 {
		t.Error("peek removed the entry")
	}
}

func TestBufferEvictsEarliestAtBound(t *testing.T) {
	b := newPlaybackBuffer(50)

	for d := int64(1); d <= 50; d++ {
		if evicted := b.push(d, nil); evicted {
			t.Fatalf("push %d evicted below the bound", d)
		}
	}

	if evicted := b.push(51, nil); !evicted {
		t.Fatal("push beyond the bound did not evict")
	}
	if b.len() != 50 {
		t.Fatalf("len = %d, want 50", b.len())
	}

	// Deadline 1 was the earliest; it must be gone.
	e, _ := b.peek()
	if e.deadline != 2 {
		t.Errorf("earliest deadline = %d, want 2", e.deadline)
	}
}

func TestBufferClear(t *testing.T) {
	b := newPlaybackBuffer(50)
	b.push(1, nil)
	b.push(2, nil)

	b.clear()

	if b.len() != 0 {
		t.Errorf("len after clear = %d", b.len())
	}
	if _, ok := b.peek(); ok {
		t.Error("peek succeeded after clear")
	}
}
