package capture

import (
	"image"
	"sync"
)

// Reusable pixel buffers for frames copied out of capture devices. Devices
// that hand out memory they will reuse (GStreamer sample buffers, screenshot
// results converted from BGRA) copy into a pooled buffer; the poll loop calls
// RecycleFrame after decoding. If a consumer never recycles, behaviour
// degrades to plain allocation.

var framePool sync.Pool // stores *[]byte

// acquireBuffer returns a byte slice of exactly n bytes, reusing a pooled
// backing array when one is large enough.
func acquireBuffer(n int) []byte {
	if n <= 0 {
		return nil
	}
	if v := framePool.Get(); v != nil {
		buf := *(v.(*[]byte))
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// acquireFrame returns an RGBA image sized to rect backed by a pooled buffer.
func acquireFrame(rect image.Rectangle) *image.RGBA {
	w, h := rect.Dx(), rect.Dy()
	if w <= 0 || h <= 0 {
		return &image.RGBA{Rect: rect}
	}
	return &image.RGBA{Pix: acquireBuffer(w * h * 4), Stride: w * 4, Rect: rect}
}

// RecycleFrame returns the frame's pixel buffer to the pool. The frame must
// not be accessed after the call.
func RecycleFrame(f Frame) {
	if f.Pix == nil {
		return
	}
	buf := f.Pix[:0]
	framePool.Put(&buf)
}
