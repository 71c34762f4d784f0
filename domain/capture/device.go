package capture

import (
	"context"
	"image"
)

// Constraints describe the capture device a caller wants.
type Constraints struct {
	// Device selects a specific device, e.g. "/dev/video0". Empty picks the default.
	Device string
	// Width and Height request a frame size; zero keeps the device default.
	Width  int
	Height int
	// FrameRate requests frames per second from push-based devices.
	FrameRate int
	// Region restricts screen capture to a rectangle in screen coordinates.
	Region image.Rectangle
}

// Device is an acquired capture device. CaptureFrame returns false when no
// frame is buffered yet. Close releases the device; it is safe to call more
// than once.
type Device interface {
	CaptureFrame() (Frame, bool)
	Close() error
}

// Provider acquires capture devices. Acquire failures are *failure.Error
// values of kind PermissionDenied, DeviceNotFound or DeviceOtherFailure.
type Provider interface {
	Name() string
	Acquire(ctx context.Context, c Constraints) (Device, error)
}

// DeviceInfo describes a device a provider can open.
type DeviceInfo struct {
	ID          string
	Description string
}

// Lister is implemented by providers that can enumerate their devices.
type Lister interface {
	List() ([]DeviceInfo, error)
}
