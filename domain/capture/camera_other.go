//go:build !linux || !cgo

package capture

import (
	"context"
	"log/slog"

	"github.com/soocke/qrdial-go/failure"
)

// CameraProvider is only backed by GStreamer on Linux with cgo enabled.
type CameraProvider struct {
	logger *slog.Logger
}

func NewCameraProvider(logger *slog.Logger) *CameraProvider {
	return &CameraProvider{logger: logger}
}

func (p *CameraProvider) Name() string { return "camera" }

func (p *CameraProvider) Acquire(ctx context.Context, c Constraints) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, failure.Newf(failure.DeviceNotFound, nil, "Camera capture is not supported on this platform; use --source screen or --source replay.")
}

func (p *CameraProvider) List() ([]DeviceInfo, error) { return nil, nil }
