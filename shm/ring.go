package shm

import (
	"sync/atomic"
	"unsafe"
)

// ringReadAttempts bounds how often Read retries after being lapped by the
// producer mid-copy.
const ringReadAttempts = 4

// Ring is an int16 sample ring with overwrite-oldest semantics. The producer
// never blocks and never touches the read index; when it laps the consumer,
// the oldest unread samples are lost. The consumer notices on its next Read,
// skips to the oldest retained sample and re-validates after copying.
//
// Capacity is a whole number of frames, so with a producer that writes whole
// frames every index stays frame aligned.
type Ring struct {
	dir     string
	name    string
	seg     *Segment
	data    []int16
	size    uint64
	dropped uint64
}

// NewRing returns a closed handle for the named ring segment.
func NewRing(dir, name string) *Ring {
	return &Ring{dir: dir, name: name}
}

// CreateRing creates and opens a ring holding frames frames of channels
// interleaved samples. sampleRate and channels are stored in the header for
// the consumer.
func CreateRing(dir, name string, frames, sampleRate, channels int) (*Ring, error) {
	if channels < 1 {
		channels = 1
	}
	if frames < 1 {
		frames = 1
	}
	size := uint64(frames * channels)
	seg, err := createSegment(dir, name, headerSize+int(size)*2)
	if err != nil {
		return nil, err
	}
	seg.initHeader(KindRing, size, uint32(sampleRate), uint32(channels))
	seg.markReady()

	r := &Ring{dir: dir, name: name}
	r.attach(seg)
	return r, nil
}

func (r *Ring) attach(seg *Segment) {
	r.seg = seg
	r.size = seg.capacity()
	r.data = unsafe.Slice((*int16)(unsafe.Pointer(&seg.mem[headerSize])), int(r.size))
}

func (r *Ring) widx() *uint64 {
	return r.seg.u64(offLineA)
}

// wend is the end of the write in progress. It is published before the
// samples are stored, so a reader can tell which slots are being replaced.
func (r *Ring) wend() *uint64 {
	return r.seg.u64(offLineA + 8)
}

func (r *Ring) ridx() *uint64 {
	return r.seg.u64(offLineB)
}

// Name returns the segment name.
func (r *Ring) Name() string {
	return r.name
}

// Open maps the segment if it is ready.
func (r *Ring) Open() error {
	if r.seg != nil {
		return nil
	}
	seg, err := openSegment(r.dir, r.name, KindRing)
	if err != nil {
		return err
	}
	r.attach(seg)
	return nil
}

// IsOpen reports whether the segment is mapped.
func (r *Ring) IsOpen() bool {
	return r.seg != nil
}

// Close unmaps the segment.
func (r *Ring) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.Close()
	r.seg = nil
	r.data = nil
	r.size = 0
	return err
}

// Capacity returns the ring size in samples.
func (r *Ring) Capacity() int {
	return int(r.size)
}

// SampleRate returns the producer's native sample rate.
func (r *Ring) SampleRate() int {
	if r.seg == nil {
		return 0
	}
	return int(r.seg.param(0))
}

// Channels returns the interleaved channel count.
func (r *Ring) Channels() int {
	if r.seg == nil {
		return 0
	}
	return int(r.seg.param(1))
}

// Written returns the total number of samples ever produced, including any
// that were overwritten before being read.
func (r *Ring) Written() uint64 {
	if r.seg == nil {
		return 0
	}
	return atomic.LoadUint64(r.widx())
}

// Dropped returns how many samples the consumer lost to overwrites.
func (r *Ring) Dropped() uint64 {
	return r.dropped
}

// Available returns the number of unread samples still retained.
func (r *Ring) Available() int {
	if r.seg == nil {
		return 0
	}
	w := atomic.LoadUint64(r.widx())
	rd := atomic.LoadUint64(r.ridx())
	used := w - rd
	if used > r.size {
		used = r.size
	}
	return int(used)
}

// Write appends samples, overwriting the oldest unread ones when full. If
// more than a ring's worth is written at once only the newest samples are
// stored, but the write index still advances by len(samples).
func (r *Ring) Write(samples []int16) {
	if r.seg == nil || len(samples) == 0 {
		return
	}
	w := atomic.LoadUint64(r.widx())
	total := uint64(len(samples))
	start := w
	if total > r.size {
		start = w + total - r.size
		samples = samples[total-r.size:]
	}
	atomic.StoreUint64(r.wend(), w+total)
	pos := start % r.size
	n := copy(r.data[pos:], samples)
	if n < len(samples) {
		copy(r.data, samples[n:])
	}
	atomic.StoreUint64(r.widx(), w+total)
}

// Read copies up to len(dst) of the oldest retained samples into dst, in
// whole frames, and returns how many samples were copied.
func (r *Ring) Read(dst []int16) int {
	if r.seg == nil || len(dst) == 0 {
		return 0
	}
	channels := uint64(r.Channels())
	if channels == 0 {
		channels = 1
	}

	for attempt := 0; attempt < ringReadAttempts; attempt++ {
		w := atomic.LoadUint64(r.widx())
		rd := atomic.LoadUint64(r.ridx())
		var lost uint64
		if w-rd > r.size {
			lost = w - rd - r.size
			rd = w - r.size
		}

		n := w - rd
		if uint64(len(dst)) < n {
			n = uint64(len(dst))
		}
		n -= n % channels
		if n == 0 {
			r.dropped += lost
			atomic.StoreUint64(r.ridx(), rd)
			return 0
		}

		pos := rd % r.size
		c := copy(dst[:n], r.data[pos:])
		if uint64(c) < n {
			copy(dst[c:n], r.data)
		}

		// The producer may have lapped us while copying, or be storing
		// into the slots just copied. Either way the copy is suspect and
		// we start again from the new oldest sample.
		if atomic.LoadUint64(r.wend())-rd > r.size {
			continue
		}
		r.dropped += lost
		atomic.StoreUint64(r.ridx(), rd+n)
		return int(n)
	}
	return 0
}

// Discard drops every unread sample.
func (r *Ring) Discard() {
	if r.seg == nil {
		return
	}
	atomic.StoreUint64(r.ridx(), atomic.LoadUint64(r.widx()))
}
