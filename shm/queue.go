package shm

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// recordHeader is the length prefix stored before every queued record.
const recordHeader = 4

// minQueueCapacity keeps tiny queues usable for a handful of records.
const minQueueCapacity = 64

// queueView is an SPSC byte-record ring over a slice of a mapped segment.
// The producer index lives at prod and the consumer index at cons.
type queueView struct {
	mem  []byte
	prod int
	cons int
	data int
	size uint64 // power of two
}

func (q *queueView) widx() *uint64 {
	return (*uint64)(unsafe.Pointer(&q.mem[q.prod]))
}

func (q *queueView) ridx() *uint64 {
	return (*uint64)(unsafe.Pointer(&q.mem[q.cons]))
}

// copyIn writes p at ring position pos, splitting across the wrap point.
func (q *queueView) copyIn(pos uint64, p []byte) {
	off := pos & (q.size - 1)
	first := q.size - off
	base := q.data + int(off)
	if uint64(len(p)) <= first {
		copy(q.mem[base:], p)
		return
	}
	copy(q.mem[base:q.data+int(q.size)], p[:first])
	copy(q.mem[q.data:], p[first:])
}

// copyOut reads len(p) bytes from ring position pos.
func (q *queueView) copyOut(pos uint64, p []byte) {
	off := pos & (q.size - 1)
	first := q.size - off
	base := q.data + int(off)
	if uint64(len(p)) <= first {
		copy(p, q.mem[base:base+len(p)])
		return
	}
	n := copy(p, q.mem[base:q.data+int(q.size)])
	copy(p[n:], q.mem[q.data:q.data+len(p)-n])
}

// push appends one record. It never blocks and returns false when the
// record does not fit in the free space.
func (q *queueView) push(rec []byte) bool {
	need := uint64(recordHeader + len(rec))
	w := atomic.LoadUint64(q.widx())
	r := atomic.LoadUint64(q.ridx())
	if need > q.size-(w-r) {
		return false
	}

	var hdr [recordHeader]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(rec)))
	q.copyIn(w, hdr[:])
	q.copyIn(w+recordHeader, rec)

	atomic.StoreUint64(q.widx(), w+need)
	return true
}

// pop removes the oldest record. ok is false when the queue is empty. A
// length prefix that points past the written data is reported as
// ErrCorrupt and the queue is resynchronised to the write index.
func (q *queueView) pop() (rec []byte, ok bool, err error) {
	r := atomic.LoadUint64(q.ridx())
	w := atomic.LoadUint64(q.widx())
	if w == r {
		return nil, false, nil
	}
	used := w - r
	if used < recordHeader || used > q.size {
		atomic.StoreUint64(q.ridx(), w)
		return nil, false, ErrCorrupt
	}

	var hdr [recordHeader]byte
	q.copyOut(r, hdr[:])
	n := uint64(binary.LittleEndian.Uint32(hdr[:]))
	if recordHeader+n > used {
		atomic.StoreUint64(q.ridx(), w)
		return nil, false, ErrCorrupt
	}

	rec = make([]byte, n)
	q.copyOut(r+recordHeader, rec)
	atomic.StoreUint64(q.ridx(), r+recordHeader+n)
	return rec, true, nil
}

// used returns the number of bytes waiting to be read.
func (q *queueView) used() uint64 {
	return atomic.LoadUint64(q.widx()) - atomic.LoadUint64(q.ridx())
}

// Queue is a one-way record queue. Create it on the producing side of the
// segment with CreateQueue; open it on the other side with NewQueue + Open.
// Either end may be the writer; the queue only requires that there is one
// writer and one reader.
type Queue struct {
	dir  string
	name string
	seg  *Segment
	view queueView
}

// NewQueue returns a closed handle for the named queue segment.
func NewQueue(dir, name string) *Queue {
	return &Queue{dir: dir, name: name}
}

// CreateQueue creates and opens a queue segment holding at least capacity
// bytes of records. The returned queue owns the segment file.
func CreateQueue(dir, name string, capacity int) (*Queue, error) {
	size := nextPow2(capacity, minQueueCapacity)
	seg, err := createSegment(dir, name, headerSize+int(size))
	if err != nil {
		return nil, err
	}
	seg.initHeader(KindQueue, size, 0, 0)
	seg.markReady()

	q := &Queue{dir: dir, name: name}
	q.attach(seg)
	return q, nil
}

func (q *Queue) attach(seg *Segment) {
	q.seg = seg
	q.view = queueView{
		mem:  seg.mem,
		prod: offLineA,
		cons: offLineB,
		data: headerSize,
		size: seg.capacity(),
	}
}

// Name returns the segment name.
func (q *Queue) Name() string {
	return q.name
}

// Open maps the segment if it is ready. It returns ErrNotReady while the
// other side has not created it yet.
func (q *Queue) Open() error {
	if q.seg != nil {
		return nil
	}
	seg, err := openSegment(q.dir, q.name, KindQueue)
	if err != nil {
		return err
	}
	q.attach(seg)
	return nil
}

// IsOpen reports whether the segment is mapped.
func (q *Queue) IsOpen() bool {
	return q.seg != nil
}

// Close unmaps the segment. Closing a closed queue is a no-op.
func (q *Queue) Close() error {
	if q.seg == nil {
		return nil
	}
	err := q.seg.Close()
	q.seg = nil
	q.view = queueView{}
	return err
}

// Capacity returns the record area size in bytes.
func (q *Queue) Capacity() int {
	return int(q.view.size)
}

// Write enqueues one record. It returns false if the queue is closed or the
// record does not fit; the record is dropped in that case.
func (q *Queue) Write(rec []byte) bool {
	if q.seg == nil {
		return false
	}
	return q.view.push(rec)
}

// Read dequeues the oldest record. ok is false when the queue is closed or
// empty.
func (q *Queue) Read() (rec []byte, ok bool, err error) {
	if q.seg == nil {
		return nil, false, nil
	}
	return q.view.pop()
}

// Pending returns the number of queued bytes, headers included.
func (q *Queue) Pending() int {
	if q.seg == nil {
		return 0
	}
	return int(q.view.used())
}
