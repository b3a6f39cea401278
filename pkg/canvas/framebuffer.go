// Package canvas implements the shared pixel grid that every Pixelflut
// connection reads and writes concurrently without a lock.
package canvas

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ErrSharedMemorySizeMismatch is returned by NewShared when an
// existing shared-memory segment does not match the requested canvas
// dimensions. Per spec this is a fatal startup condition.
var ErrSharedMemorySizeMismatch = errors.New("canvas: shared memory segment size mismatch")

// Framebuffer is a fixed-size W x H grid of 32-bit pixels holding R in
// bits 0-7, G in 8-15, B in 16-23 and A in 24-31 (bytes R,G,B,A in
// little-endian memory order). Dimensions are immutable after
// New. Every cell is individually atomic so concurrent writers never
// tear a pixel; there is no whole-buffer lock and readers tolerate a
// mix of pre- and post-write values across cells.
type Framebuffer struct {
	width, height int
	pixels        []atomic.Uint32
}

// New allocates a zeroed width x height framebuffer.
func New(width, height int) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas: invalid dimensions %dx%d", width, height)
	}
	return &Framebuffer{
		width:  width,
		height: height,
		pixels: make([]atomic.Uint32, width*height),
	}, nil
}

// Width returns the canvas width in pixels.
func (fb *Framebuffer) Width() int { return fb.width }

// Height returns the canvas height in pixels.
func (fb *Framebuffer) Height() int { return fb.height }

// Size returns width*height, the total pixel count.
func (fb *Framebuffer) Size() int { return fb.width * fb.height }

// Get returns the pixel at (x, y), or false if out of bounds.
func (fb *Framebuffer) Get(x, y int) (uint32, bool) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return 0, false
	}
	return fb.pixels[x+y*fb.width].Load(), true
}

// GetUnchecked returns the pixel at (x, y). The caller asserts that
// (x, y) is in bounds; only the flat index x+y*width is checked, so an
// x past the row end reads a pixel of a later row, and an index past
// the end of the canvas panics.
func (fb *Framebuffer) GetUnchecked(x, y int) uint32 {
	return fb.pixels[x+y*fb.width].Load()
}

// Set stores pixel at (x, y). Out-of-bounds coordinates are silently
// ignored — this is a protocol feature of Pixelflut, not a bug.
func (fb *Framebuffer) Set(x, y int, pixel uint32) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return
	}
	fb.pixels[x+y*fb.width].Store(pixel)
}

// SetUnchecked stores pixel at (x, y) without a bounds check.
func (fb *Framebuffer) SetUnchecked(x, y int, pixel uint32) {
	fb.pixels[x+y*fb.width].Store(pixel)
}

// SetMulti treats pixels as raw little-endian RGBA quads and copies
// them contiguously starting at (startX, startY), row-major, wrapping
// at the canvas width. It returns the cursor position after the last
// pixel written. If the write would run past the end of the canvas,
// it is a complete no-op and the original cursor is returned.
func (fb *Framebuffer) SetMulti(startX, startY int, pixels []byte) (newX, newY int) {
	startIndex := startX + startY*fb.width
	numPixels := len(pixels) / 4
	if startIndex < 0 || startIndex+numPixels > len(fb.pixels) {
		return startX, startY
	}

	for i := 0; i < numPixels; i++ {
		off := i * 4
		rgba := uint32(pixels[off]) | uint32(pixels[off+1])<<8 | uint32(pixels[off+2])<<16 | uint32(pixels[off+3])<<24
		fb.pixels[startIndex+i].Store(rgba)
	}

	newX = (startX + numPixels) % fb.width
	newY = startY + (startX+numPixels)/fb.width
	return newX, newY
}

// AsBytes returns a read-only byte view of the pixel array, length
// 4*Width()*Height(), each pixel's 32-bit word in native byte order
// (R,G,B,A on little-endian hosts). It is meant
// for display sinks that poll the canvas at a fixed cadence; the view
// may show a mix of pre- and post-update pixels if read concurrently
// with writers, which is acceptable by design.
//
// This reinterprets the []atomic.Uint32 backing array as bytes rather
// than copying, so sinks see live data without an allocation on every
// frame. atomic.Uint32's in-memory layout is a bare uint32, so this is
// safe as long as the slice outlives the returned view — which it
// does, since Framebuffer is never resized after New.
func (fb *Framebuffer) AsBytes() []byte {
	if len(fb.pixels) == 0 {
		return nil
	}
	ptr := (*byte)(unsafe.Pointer(&fb.pixels[0]))
	return unsafe.Slice(ptr, len(fb.pixels)*4)
}

// atomicSliceOverBytes reinterprets a byte slice (e.g. an mmap'd
// region) as a slice of atomic.Uint32. atomic.Uint32's representation
// is a bare uint32, so this is a direct reinterpretation with no
// copying — writes through the resulting slice are the same single
// aligned 32-bit stores as a heap-backed Framebuffer uses, which is
// exactly the no-torn-pixel contract a shared-memory backing needs to
// preserve.
func atomicSliceOverBytes(data []byte) []atomic.Uint32 {
	if len(data) == 0 {
		return nil
	}
	ptr := (*atomic.Uint32)(unsafe.Pointer(&data[0]))
	return unsafe.Slice(ptr, len(data)/4)
}
