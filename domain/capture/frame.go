package capture

import (
	"image"
	"image/draw"
	"time"
)

// PixelFormat describes the layout of Frame.Pix.
type PixelFormat int

const (
	FormatRGBA PixelFormat = iota // 4 bytes per pixel
	FormatLuma                    // 1 byte per pixel
)

func (f PixelFormat) bytesPerPixel() int {
	if f == FormatLuma {
		return 1
	}
	return 4
}

// Frame is one raster buffer produced by a capture tick. It is owned by the
// caller of CaptureFrame and should be handed back with RecycleFrame once
// decoded.
type Frame struct {
	Width      int
	Height     int
	Pix        []byte
	Format     PixelFormat
	CapturedAt time.Time
	Sequence   uint64
}

// Empty reports whether the frame carries no usable pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*f.Format.bytesPerPixel()
}

// Image wraps the pixel buffer without copying.
func (f Frame) Image() image.Image {
	r := image.Rect(0, 0, f.Width, f.Height)
	if f.Format == FormatLuma {
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: r}
	}
	return &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: r}
}

// FrameFromImage converts img into an RGBA frame. *image.RGBA and *image.Gray
// with tight strides are wrapped without copying, so the frame may only be
// recycled when img is not used again; anything else goes through CopyFrame.
func FrameFromImage(img image.Image) Frame {
	if img == nil {
		return Frame{}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	now := time.Now()
	switch src := img.(type) {
	case *image.RGBA:
		if b.Min == (image.Point{}) && src.Stride == w*4 {
			return Frame{Width: w, Height: h, Pix: src.Pix[:w*h*4], Format: FormatRGBA, CapturedAt: now}
		}
	case *image.Gray:
		if b.Min == (image.Point{}) && src.Stride == w {
			return Frame{Width: w, Height: h, Pix: src.Pix[:w*h], Format: FormatLuma, CapturedAt: now}
		}
	}
	return CopyFrame(img)
}

// Stats summarises device capture behaviour for instrumentation.
type Stats struct {
	Captures       uint64
	Skipped        uint64
	AvgCapture     time.Duration
	LastCapture    time.Time
	LatestFrameAge time.Duration
	Sequence       uint64
}

// CopyFrame draws img into a pooled RGBA buffer. Devices use it so the
// frames they hand out can be recycled safely.
func CopyFrame(img image.Image) Frame {
	if img == nil {
		return Frame{}
	}
	b := img.Bounds()
	dst := acquireFrame(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return Frame{Width: b.Dx(), Height: b.Dy(), Pix: dst.Pix, Format: FormatRGBA, CapturedAt: time.Now()}
}
