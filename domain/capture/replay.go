package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/soocke/qrdial-go/failure"
)

var replayExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// ReplayProvider plays back a fixed sequence of images as if they came from a
// camera. A nil image in the sequence yields a tick without data.
type ReplayProvider struct {
	frames []image.Image
	loop   bool
}

// NewReplayFrames replays the given images. When loop is set the sequence
// restarts after the last image; otherwise the device runs dry.
func NewReplayFrames(loop bool, frames ...image.Image) *ReplayProvider {
	return &ReplayProvider{frames: frames, loop: loop}
}

// NewReplayDir returns a provider that loads the images of the directory
// named by Constraints.Device at acquisition time, in lexical order.
func NewReplayDir(loop bool) *ReplayProvider {
	return &ReplayProvider{loop: loop}
}

func (p *ReplayProvider) Name() string { return "replay" }

func (p *ReplayProvider) Acquire(ctx context.Context, c Constraints) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := p.frames
	if frames == nil {
		loaded, err := loadReplayDir(c.Device)
		if err != nil {
			return nil, err
		}
		frames = loaded
	}
	if len(frames) == 0 {
		return nil, failure.Newf(failure.DeviceNotFound, nil, "No frames to replay.")
	}
	return &replayDevice{frames: frames, loop: p.loop}, nil
}

// List reports the configured source.
func (p *ReplayProvider) List() ([]DeviceInfo, error) {
	if p.frames != nil {
		return []DeviceInfo{{ID: "replay", Description: fmt.Sprintf("%d in-memory frames", len(p.frames))}}, nil
	}
	return []DeviceInfo{{ID: "replay", Description: "image directory given with --device"}}, nil
}

func loadReplayDir(dir string) ([]image.Image, error) {
	if dir == "" {
		return nil, failure.Newf(failure.DeviceNotFound, nil, "No replay directory was given.")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, acquireError(err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !replayExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := imaging.Open(filepath.Join(dir, name), imaging.AutoOrientation(true))
		if err != nil {
			return nil, acquireError(fmt.Errorf("load %s: %w", name, err))
		}
		frames = append(frames, img)
	}
	return frames, nil
}

type replayDevice struct {
	mu     sync.Mutex
	frames []image.Image
	loop   bool
	next   int
	slot   frameSlot
	closed bool
}

func (d *replayDevice) CaptureFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.frames) == 0 {
		return Frame{}, false
	}
	if d.next >= len(d.frames) {
		if !d.loop {
			return Frame{}, false
		}
		d.next = 0
	}
	img := d.frames[d.next]
	d.next++
	if img == nil {
		d.slot.skipped.Add(1)
		return Frame{}, false
	}
	start := time.Now()
	d.slot.put(CopyFrame(img), time.Since(start))
	return d.slot.take()
}

func (d *replayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.slot.drain()
	return nil
}

func (d *replayDevice) Stats() Stats { return d.slot.stats() }
