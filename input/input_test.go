package input

import (
	"bytes"
	"strings"
	"testing"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/shm"
	"github.com/user-none/emubridge/wire"
)

func newQueues(t *testing.T, capacity int) (*shm.Queue, *shm.Queue) {
	t.Helper()
	dir := t.TempDir()
	sub, err := shm.CreateQueue(dir, "input-1", capacity)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	host := shm.NewQueue(dir, "input-1")
	if err := host.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { host.Close() })
	return host, sub
}

func TestWriter_FIFO(t *testing.T) {
	host, sub := newQueues(t, 4096)
	w := NewWriter(host, logging.New(&bytes.Buffer{}))

	events := []wire.InputEvent{
		{Name: "Up", Value: 1, Controller: 0},
		{Name: "A", Value: 1, Controller: 1},
		{Name: "LeftX", Value: -12000, Controller: 0, Analog: true},
		{Name: "Up", Value: 0, Controller: 0},
	}
	if n := w.WriteAll(events); n != len(events) {
		t.Fatalf("WriteAll = %d, want %d", n, len(events))
	}

	for i, want := range events {
		rec, ok, err := sub.Read()
		if err != nil || !ok {
			t.Fatalf("Read %d: ok=%v err=%v", i, ok, err)
		}
		got, err := wire.DecodeInputEvent(rec)
		if err != nil {
			t.Fatalf("DecodeInputEvent %d: %v", i, err)
		}
		if got != want {
			t.Errorf("event %d = %+v, want %+v", i, got, want)
		}
	}
	if _, ok, _ := sub.Read(); ok {
		t.Error("queue should be drained")
	}
}

func TestWriter_FullQueueDropsAndWarnsOnce(t *testing.T) {
	host, _ := newQueues(t, 64)
	var buf bytes.Buffer
	w := NewWriter(host, logging.New(&buf))

	accepted := 0
	for i := 0; i < 20; i++ {
		if w.Write(wire.InputEvent{Name: "Start", Value: 1}) {
			accepted++
		}
	}
	if accepted == 0 || accepted == 20 {
		t.Fatalf("accepted = %d, want some but not all", accepted)
	}
	if got := w.Dropped(); got != uint64(20-accepted) {
		t.Errorf("Dropped = %d, want %d", got, 20-accepted)
	}
	if n := strings.Count(buf.String(), "full"); n != 1 {
		t.Errorf("got %d full-queue warnings, want 1:\n%s", n, buf.String())
	}
}

func TestWriter_ClosedQueue(t *testing.T) {
	w := NewWriter(shm.NewQueue(t.TempDir(), "input-2"), logging.New(&bytes.Buffer{}))
	if w.Write(wire.InputEvent{Name: "A"}) {
		t.Fatal("write to a closed queue should fail")
	}
	if w.Dropped() != 0 {
		t.Fatal("closed queue is not a drop")
	}
}
