package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/vova616/screenshot"

	"github.com/soocke/qrdial-go/failure"
)

// ScreenProvider treats a region of the screen as the camera, so a QR code
// shown in another window (a video call, a web page) can be scanned.
type ScreenProvider struct {
	logger *slog.Logger
	bounds func() (image.Rectangle, error)
	grab   func(image.Rectangle) (*image.RGBA, error)
}

// NewScreenProvider returns a provider backed by the screenshot library.
func NewScreenProvider(logger *slog.Logger) *ScreenProvider {
	return &ScreenProvider{logger: logger, bounds: screenshot.ScreenRect, grab: screenshot.CaptureRect}
}

func (p *ScreenProvider) Name() string { return "screen" }

// Acquire resolves the capture rectangle. A missing display maps to
// DeviceNotFound; a region outside the screen is rejected the same way.
func (p *ScreenProvider) Acquire(ctx context.Context, c Constraints) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	screen, err := p.bounds()
	if err != nil {
		return nil, acquireError(err)
	}
	if screen.Empty() {
		return nil, failure.Newf(failure.DeviceNotFound, nil, "No screen is available for capture.")
	}
	rect := screen
	if !c.Region.Empty() {
		rect = c.Region.Intersect(screen)
		if rect.Empty() {
			return nil, failure.Newf(failure.DeviceNotFound, nil, "The capture region %v is outside the screen %v.", c.Region, screen)
		}
	}
	// One probe grab surfaces capture permission problems (e.g. a Wayland
	// session refusing X11 capture) at acquisition time.
	if _, err := p.grab(rect); err != nil {
		return nil, acquireError(fmt.Errorf("screen capture probe: %w", err))
	}
	if p.logger != nil {
		p.logger.Debug("screen device acquired", "rect", rect.String())
	}
	return &screenDevice{rect: rect, grab: p.grab, logger: p.logger}, nil
}

// List reports the primary screen.
func (p *ScreenProvider) List() ([]DeviceInfo, error) {
	r, err := p.bounds()
	if err != nil {
		return nil, err
	}
	return []DeviceInfo{{ID: "screen", Description: fmt.Sprintf("screen %dx%d", r.Dx(), r.Dy())}}, nil
}

type screenDevice struct {
	mu     sync.Mutex
	rect   image.Rectangle
	grab   func(image.Rectangle) (*image.RGBA, error)
	logger *slog.Logger
	slot   frameSlot
	closed bool
}

// CaptureFrame grabs the region synchronously. The screenshot library
// allocates a fresh image per call, so the frame may be recycled.
func (d *screenDevice) CaptureFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Frame{}, false
	}
	start := time.Now()
	img, err := d.grab(d.rect)
	if err != nil || img == nil {
		d.slot.skipped.Add(1)
		if err != nil && d.logger != nil {
			d.logger.Error("capture screen", "error", err)
		}
		return Frame{}, false
	}
	d.slot.put(FrameFromImage(img), time.Since(start))
	return d.slot.take()
}

func (d *screenDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.slot.drain()
	return nil
}

func (d *screenDevice) Stats() Stats { return d.slot.stats() }
