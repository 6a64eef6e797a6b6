package shm

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// FilePrefix is prepended to every segment file name.
const FilePrefix = "emubridge-"

// Kind identifies which primitive a segment holds.
type Kind uint32

const (
	KindQueue Kind = iota + 1
	KindRPC
	KindRing
	KindPixels
)

// String returns the display name of the kind.
func (k Kind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindRPC:
		return "rpc"
	case KindRing:
		return "ring"
	case KindPixels:
		return "pixels"
	default:
		return "unknown"
	}
}

const (
	segmentMagic uint32 = 0x454d4252 // "EMBR"

	offMagic    = 0
	offKind     = 4
	offReady    = 8
	offCapacity = 16
	offParam0   = 24
	offParam1   = 28

	lineSize   = 64
	offLineA   = 64
	offLineB   = 128
	offLineC   = 192
	offLineD   = 256
	headerSize = 192
)

var (
	// ErrNotReady means the named segment does not exist yet or has not
	// finished initialising. It is expected while the subprocess starts.
	ErrNotReady = errors.New("shm: segment not ready")

	// ErrClosed is returned by operations on a primitive that is not open.
	ErrClosed = errors.New("shm: primitive closed")

	// ErrKind means a segment exists under the name but holds another kind.
	ErrKind = errors.New("shm: segment kind mismatch")

	// ErrTimeout is returned by RPC.Call when no response arrives in time.
	ErrTimeout = errors.New("shm: call timed out")

	// ErrFull means a record could not be enqueued.
	ErrFull = errors.New("shm: queue full")

	// ErrCorrupt means a record header pointed past the written data.
	ErrCorrupt = errors.New("shm: corrupt record")
)

// Endpoint is the lifecycle shared by every primitive handle.
type Endpoint interface {
	Name() string
	Open() error
	IsOpen() bool
	Close() error
}

// DefaultDir returns /dev/shm when it exists, otherwise the OS temp dir.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Path returns the file backing the named segment in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, FilePrefix+name)
}

// Segment is a mapped shared-memory region.
type Segment struct {
	name  string
	path  string
	mem   []byte
	owner bool
}

// Name returns the segment name (without directory or prefix).
func (s *Segment) Name() string {
	return s.name
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

func (s *Segment) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

func (s *Segment) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.mem[off]))
}

func (s *Segment) kind() Kind {
	return Kind(atomic.LoadUint32(s.u32(offKind)))
}

func (s *Segment) capacity() uint64 {
	return atomic.LoadUint64(s.u64(offCapacity))
}

func (s *Segment) param(i int) uint32 {
	return atomic.LoadUint32(s.u32(offParam0 + 4*i))
}

func (s *Segment) ready() bool {
	return atomic.LoadUint32(s.u32(offMagic)) == segmentMagic &&
		atomic.LoadUint32(s.u32(offReady)) == 1
}

// initHeader writes the common header. The ready flag is set separately
// once the kind-specific area is initialised.
func (s *Segment) initHeader(kind Kind, capacity uint64, p0, p1 uint32) {
	atomic.StoreUint32(s.u32(offMagic), segmentMagic)
	atomic.StoreUint32(s.u32(offKind), uint32(kind))
	atomic.StoreUint64(s.u64(offCapacity), capacity)
	atomic.StoreUint32(s.u32(offParam0), p0)
	atomic.StoreUint32(s.u32(offParam1), p1)
}

func (s *Segment) markReady() {
	atomic.StoreUint32(s.u32(offReady), 1)
}

// nextPow2 rounds n up to a power of two, with a floor of floor.
func nextPow2(n, floor int) uint64 {
	if n < floor {
		n = floor
	}
	c := uint64(1)
	for c < uint64(n) {
		c <<= 1
	}
	return c
}
