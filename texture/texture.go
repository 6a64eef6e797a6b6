// Package texture reads frames published by the subprocess into a shared
// pixel array.
package texture

import "github.com/user-none/emubridge/shm"

// Image is the host-side copy of the latest frame. Pix holds Width*Height
// pixels as 0xAARRGGBB, row-major.
type Image struct {
	Width  int
	Height int
	Frame  uint32
	Pix    []uint32

	// Reallocs counts how often Pix was reallocated for a new geometry.
	Reallocs int
}

// resize reallocates Pix when the geometry changes.
func (img *Image) resize(width, height int) {
	if img.Width == width && img.Height == height && len(img.Pix) == width*height {
		return
	}
	img.Width = width
	img.Height = height
	img.Pix = make([]uint32, width*height)
	img.Reallocs++
}

// Valid reports whether the image holds a frame.
func (img *Image) Valid() bool {
	return img.Width > 0 && img.Height > 0
}

// RGBA converts the image to RGBA bytes, reusing dst when it is large
// enough.
func (img *Image) RGBA(dst []byte) []byte {
	n := len(img.Pix) * 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, p := range img.Pix {
		o := i * 4
		dst[o] = byte(p >> 16)
		dst[o+1] = byte(p >> 8)
		dst[o+2] = byte(p)
		dst[o+3] = byte(p >> 24)
	}
	return dst
}

// Reader copies frames out of a pixel array, at most once per frame index.
type Reader struct {
	arr      *shm.PixelArray
	last     uint32
	consumed bool
}

// NewReader creates a reader over arr. The array may still be closed.
func NewReader(arr *shm.PixelArray) *Reader {
	return &Reader{arr: arr}
}

// Width returns the declared frame width.
func (r *Reader) Width() int {
	_, w, _ := r.arr.Meta()
	return w
}

// Height returns the declared frame height.
func (r *Reader) Height() int {
	_, _, h := r.arr.Meta()
	return h
}

// Frame returns the producer's frame index.
func (r *Reader) Frame() uint32 {
	f, _, _ := r.arr.Meta()
	return f
}

// CopyPixelsInto copies the newest frame into img and reports whether a
// copy happened. Nothing is copied when the frame index has not moved since
// the last copy, when the declared geometry is 0x0 (no frame yet) or does
// not fit the array, or when the geometry changed while copying. In the last
// case the frame is left unconsumed and picked up again next call.
func (r *Reader) CopyPixelsInto(img *Image) bool {
	if !r.arr.IsOpen() {
		return false
	}
	frame, w, h := r.arr.Meta()
	if r.consumed && frame == r.last {
		return false
	}
	if w <= 0 || h <= 0 {
		return false
	}
	if w*h > r.arr.Capacity() {
		return false
	}

	img.resize(w, h)
	r.arr.CopyPixels(img.Pix)

	_, w2, h2 := r.arr.Meta()
	if w2 != w || h2 != h {
		return false
	}
	img.Frame = frame
	r.last = frame
	r.consumed = true
	return true
}
