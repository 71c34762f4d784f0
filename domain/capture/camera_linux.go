//go:build linux && cgo

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"golang.org/x/sys/unix"

	"github.com/soocke/qrdial-go/failure"
)

const (
	defaultCameraDevice = "/dev/video0"
	defaultCameraWidth  = 640
	defaultCameraHeight = 480
	cameraStartTimeout  = 5 * time.Second
)

// CameraProvider opens V4L2 webcams through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → capsfilter(RGBA) → appsink
//
// The appsink keeps only the latest buffer; frames are copied into pooled
// memory and parked in a single-frame slot until the poll loop takes them.
type CameraProvider struct {
	logger *slog.Logger
}

func NewCameraProvider(logger *slog.Logger) *CameraProvider {
	return &CameraProvider{logger: logger}
}

func (p *CameraProvider) Name() string { return "camera" }

// Acquire checks access to the device node first so that permission and
// missing-device failures are reported precisely, then starts the pipeline
// and waits for it to reach PLAYING.
func (p *CameraProvider) Acquire(ctx context.Context, c Constraints) (Device, error) {
	dev := c.Device
	if dev == "" {
		dev = defaultCameraDevice
	}
	if err := unix.Access(dev, unix.R_OK|unix.W_OK); err != nil {
		return nil, acquireError(&os.PathError{Op: "access", Path: dev, Err: err})
	}
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = defaultCameraWidth, defaultCameraHeight
	}

	gst.Init(nil)
	pipeline, sink, err := buildCameraPipeline(dev, w, h, c.FrameRate)
	if err != nil {
		return nil, failure.New(failure.DeviceOtherFailure, err)
	}
	d := &cameraDevice{pipeline: pipeline, width: w, height: h, logger: p.logger}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		gerr := drainBusError(pipeline, time.Second)
		_ = pipeline.SetState(gst.StateNull)
		if gerr != nil {
			return nil, acquireError(gerr)
		}
		return nil, acquireError(fmt.Errorf("start camera pipeline: %w", err))
	}
	if err := waitPlaying(ctx, pipeline, cameraStartTimeout); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, acquireError(err)
	}
	if p.logger != nil {
		p.logger.Info("camera device acquired", "device", dev, "width", w, "height", h)
	}
	return d, nil
}

// List enumerates V4L2 device nodes.
func (p *CameraProvider) List() ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		desc := "v4l2 device"
		if name, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(path), "name")); err == nil {
			desc = strings.TrimSpace(string(name))
		}
		if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
			desc += " (no access)"
		}
		out = append(out, DeviceInfo{ID: path, Description: desc})
	}
	return out, nil
}

func buildCameraPipeline(dev string, w, h, fps int) (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	if err := setProperty(src, "device", dev); err != nil {
		return nil, nil, err
	}
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	if err := setProperty(capsfilter, "caps", gst.NewCapsFromString(cameraCaps(w, h, fps))); err != nil {
		return nil, nil, err
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	for _, prop := range []struct {
		name  string
		value interface{}
	}{
		{"sync", false},
		{"max-buffers", uint(1)},
		{"drop", true},
	} {
		if err := setProperty(sink.Element, prop.name, prop.value); err != nil {
			return nil, nil, err
		}
	}

	if err := pipeline.AddMany(src, converter, scaler, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to add camera elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link camera elements: %w", err)
	}
	return pipeline, sink, nil
}

func setProperty(el *gst.Element, name string, value interface{}) error {
	if err := el.SetProperty(name, value); err != nil {
		return fmt.Errorf("failed to set %s on %s: %w", name, el.GetName(), err)
	}
	return nil
}

func cameraCaps(w, h, fps int) string {
	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", w, h)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	return caps
}

// waitPlaying pops bus messages until the pipeline reports PLAYING, an error
// arrives, ctx ends or the timeout passes.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			return busError(msg.ParseError())
		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, next := msg.ParseStateChanged(); next == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("camera did not start within %v", timeout)
}

func drainBusError(pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg != nil && msg.Type() == gst.MessageError {
			return busError(msg.ParseError())
		}
	}
	return nil
}

func busError(gerr *gst.GError) error {
	if gerr == nil {
		return fmt.Errorf("camera pipeline error")
	}
	return fmt.Errorf("%s: %s", gerr.Error(), gerr.DebugString())
}

type cameraDevice struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	width    int
	height   int
	logger   *slog.Logger
	slot     frameSlot
	closed   bool
}

// onNewSample runs on a GStreamer streaming thread.
func (d *cameraDevice) onNewSample(sink *app.Sink) gst.FlowReturn {
	start := time.Now()
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	need := d.width * d.height * 4
	if len(data) < need {
		buffer.Unmap()
		d.slot.skipped.Add(1)
		return gst.FlowOK
	}
	pix := acquireBuffer(need)
	copy(pix, data[:need])
	buffer.Unmap()
	d.slot.put(Frame{Width: d.width, Height: d.height, Pix: pix, Format: FormatRGBA}, time.Since(start))
	return gst.FlowOK
}

func (d *cameraDevice) CaptureFrame() (Frame, bool) { return d.slot.take() }

func (d *cameraDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.pipeline.SetState(gst.StateNull)
	d.slot.drain()
	if d.logger != nil {
		d.logger.Info("camera device released", "captures", d.slot.captures.Load())
	}
	if err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

func (d *cameraDevice) Stats() Stats { return d.slot.stats() }
