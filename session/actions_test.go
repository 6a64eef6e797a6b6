package session

import "testing"

func TestActionQueue_Generations(t *testing.T) {
	var q actionQueue
	gen := uint64(1)
	var ran, discarded []int

	q.post(1, func() { ran = append(ran, 1) }, nil)
	q.post(0, func() { ran = append(ran, 0) }, func() { discarded = append(discarded, 0) })
	q.post(1, func() { ran = append(ran, 2); gen = 2 }, nil)
	q.post(1, func() { ran = append(ran, 3) }, func() { discarded = append(discarded, 3) })

	if n := q.drain(func() uint64 { return gen }); n != 2 {
		t.Fatalf("drain ran %d actions, want 2", n)
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Errorf("ran = %v", ran)
	}
	if len(discarded) != 2 || discarded[0] != 0 || discarded[1] != 3 {
		t.Errorf("discarded = %v", discarded)
	}
	if q.len() != 0 {
		t.Error("queue not empty")
	}
}

func TestActionQueue_PostDuringDrain(t *testing.T) {
	var q actionQueue
	count := 0
	q.post(0, func() {
		count++
		q.post(0, func() { count++ }, nil)
	}, nil)
	cur := func() uint64 { return 0 }
	q.drain(cur)
	if count != 1 || q.len() != 1 {
		t.Fatalf("count=%d pending=%d", count, q.len())
	}
	q.drain(cur)
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
}
