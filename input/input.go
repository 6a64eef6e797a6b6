// Package input forwards per-tick input events to the subprocess.
package input

import (
	"sync/atomic"
	"time"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/shm"
	"github.com/user-none/emubridge/wire"
)

// dropWarnInterval bounds how often a full queue is reported.
const dropWarnInterval = 5 * time.Second

// Writer encodes input events onto a one-way queue. Only one goroutine may
// call Write.
type Writer struct {
	q       *shm.Queue
	log     *logging.Logger
	limit   *logging.Limiter
	dropped atomic.Uint64
}

// NewWriter creates a writer over q. A nil logger uses logging.Default.
func NewWriter(q *shm.Queue, lg *logging.Logger) *Writer {
	if lg == nil {
		lg = logging.Default()
	}
	return &Writer{q: q, log: lg, limit: logging.NewLimiter(dropWarnInterval)}
}

// Write enqueues one event and reports whether it was accepted. Events must
// be written oldest first. A closed or full queue drops the event.
func (w *Writer) Write(e wire.InputEvent) bool {
	if !w.q.IsOpen() {
		return false
	}
	rec, err := wire.EncodeInputEvent(e)
	if err != nil {
		w.log.Warnf("input %q not sent: %v", e.Name, err)
		return false
	}
	if !w.q.Write(rec) {
		n := w.dropped.Add(1)
		if w.limit.Allow() {
			w.log.Warnf("input queue %s full, %d events dropped so far", w.q.Name(), n)
		}
		return false
	}
	return true
}

// WriteAll writes events in order and returns how many were accepted.
func (w *Writer) WriteAll(events []wire.InputEvent) int {
	n := 0
	for _, e := range events {
		if w.Write(e) {
			n++
		}
	}
	return n
}

// Dropped returns how many events were lost to a full queue.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}
