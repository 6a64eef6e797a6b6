package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// metaWords is the number of trailing metadata elements: width, height and
// frame index.
const metaWords = 3

// PixelArray is a fixed-size array of uint32 pixels followed by width,
// height and a frame counter:
//
//	[pixel data...][width][height][frameIndex]
//
// There is no atomic snapshot of pixels and metadata. Writers store pixels,
// then width and height, then bump the frame index; readers load the frame
// index and dimensions, copy, and re-check. A torn frame is possible and
// accepted.
type PixelArray struct {
	dir  string
	name string
	seg  *Segment
	elem []uint32
	cap  int
}

// NewPixelArray returns a closed handle for the named pixel segment.
func NewPixelArray(dir, name string) *PixelArray {
	return &PixelArray{dir: dir, name: name}
}

// CreatePixelArray creates and opens a pixel segment with room for
// capacity pixels.
func CreatePixelArray(dir, name string, capacity int) (*PixelArray, error) {
	if capacity < 1 {
		capacity = 1
	}
	seg, err := createSegment(dir, name, headerSize+(capacity+metaWords)*4)
	if err != nil {
		return nil, err
	}
	seg.initHeader(KindPixels, uint64(capacity), 0, 0)
	seg.markReady()

	p := &PixelArray{dir: dir, name: name}
	p.attach(seg)
	return p, nil
}

func (p *PixelArray) attach(seg *Segment) {
	p.seg = seg
	p.cap = int(seg.capacity())
	p.elem = unsafe.Slice((*uint32)(unsafe.Pointer(&seg.mem[headerSize])), p.cap+metaWords)
}

// Name returns the segment name.
func (p *PixelArray) Name() string {
	return p.name
}

// Open maps the segment if it is ready.
func (p *PixelArray) Open() error {
	if p.seg != nil {
		return nil
	}
	seg, err := openSegment(p.dir, p.name, KindPixels)
	if err != nil {
		return err
	}
	p.attach(seg)
	return nil
}

// IsOpen reports whether the segment is mapped.
func (p *PixelArray) IsOpen() bool {
	return p.seg != nil
}

// Close unmaps the segment.
func (p *PixelArray) Close() error {
	if p.seg == nil {
		return nil
	}
	err := p.seg.Close()
	p.seg = nil
	p.elem = nil
	p.cap = 0
	return err
}

// Capacity returns the pixel capacity, excluding metadata.
func (p *PixelArray) Capacity() int {
	return p.cap
}

// Meta returns the frame index followed by the declared dimensions. The
// frame index is loaded first.
func (p *PixelArray) Meta() (frame uint32, width, height int) {
	if p.seg == nil {
		return 0, 0, 0
	}
	frame = atomic.LoadUint32(&p.elem[p.cap+2])
	width = int(atomic.LoadUint32(&p.elem[p.cap]))
	height = int(atomic.LoadUint32(&p.elem[p.cap+1]))
	return frame, width, height
}

// CopyPixels copies the first len(dst) pixels (at most Capacity) into dst.
func (p *PixelArray) CopyPixels(dst []uint32) int {
	if p.seg == nil {
		return 0
	}
	n := len(dst)
	if n > p.cap {
		n = p.cap
	}
	return copy(dst[:n], p.elem[:n])
}

// WriteFrame publishes one frame: pixels, then dimensions, then the frame
// index increment.
func (p *PixelArray) WriteFrame(pixels []uint32, width, height int) error {
	if p.seg == nil {
		return ErrClosed
	}
	n := width * height
	if width < 0 || height < 0 || n > p.cap {
		return fmt.Errorf("frame %dx%d exceeds capacity %d", width, height, p.cap)
	}
	if len(pixels) < n {
		return fmt.Errorf("frame %dx%d needs %d pixels, got %d", width, height, n, len(pixels))
	}
	copy(p.elem[:n], pixels[:n])
	atomic.StoreUint32(&p.elem[p.cap], uint32(width))
	atomic.StoreUint32(&p.elem[p.cap+1], uint32(height))
	atomic.AddUint32(&p.elem[p.cap+2], 1)
	return nil
}
