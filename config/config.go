package config

import (
	"encoding/json"
	"image"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Capture sources.
const (
	SourceCamera = "camera"
	SourceScreen = "screen"
	SourceReplay = "replay"
)

var schemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// Config holds runtime configuration for acquisition, decoding, extraction
// and the messaging hand-off. Fields may be loaded from a JSON file and
// overridden by QRDIAL_* environment variables and command-line flags.
type Config struct {
	Debug bool `json:"debug"`

	// Acquisition
	Source         string `json:"source"`
	Device         string `json:"device"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	FrameRate      int    `json:"frame_rate"`
	PollIntervalMs int    `json:"poll_interval_ms"`

	// Decoding
	LiveMaxDimension  int `json:"live_max_dimension"`
	ImageMaxDimension int `json:"image_max_dimension"`

	// Region of interest: screen area for the screen source, crop for still
	// images. Zero width or height means the whole frame.
	RegionX int `json:"region_x"`
	RegionY int `json:"region_y"`
	RegionW int `json:"region_w"`
	RegionH int `json:"region_h"`

	// Extraction
	LenientFallback bool `json:"lenient_fallback"`

	// Hand-off
	HandoffScheme string `json:"handoff_scheme"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:             false,
		Source:            SourceCamera,
		Device:            "",
		Width:             640,
		Height:            480,
		FrameRate:         0,
		PollIntervalMs:    200,
		LiveMaxDimension:  1024,
		ImageMaxDimension: 2048,
		LenientFallback:   false,
		HandoffScheme:     "sms",
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	switch c.Source = strings.ToLower(strings.TrimSpace(c.Source)); c.Source {
	case SourceCamera, SourceScreen, SourceReplay:
	default:
		c.Source = SourceCamera
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FrameRate < 0 {
		c.FrameRate = 0
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 200
	}
	if c.PollIntervalMs < 20 {
		c.PollIntervalMs = 20
	}
	if c.PollIntervalMs > 5000 {
		c.PollIntervalMs = 5000
	}
	if c.LiveMaxDimension <= 0 {
		c.LiveMaxDimension = 1024
	}
	if c.LiveMaxDimension < 128 {
		c.LiveMaxDimension = 128
	}
	if c.ImageMaxDimension <= 0 {
		c.ImageMaxDimension = 2048
	}
	if c.RegionW < 0 || c.RegionH < 0 {
		c.RegionX, c.RegionY, c.RegionW, c.RegionH = 0, 0, 0, 0
	}
	c.HandoffScheme = strings.ToLower(strings.TrimSpace(c.HandoffScheme))
	if !schemePattern.MatchString(c.HandoffScheme) {
		c.HandoffScheme = "sms"
	}
	return nil
}

// PollInterval returns the delay between poll ticks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Region returns the configured region of interest, empty when unset.
func (c *Config) Region() image.Rectangle {
	if c.RegionW <= 0 || c.RegionH <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(c.RegionX, c.RegionY, c.RegionX+c.RegionW, c.RegionY+c.RegionH)
}

// Load attempts to read configuration from the given JSON file path. A
// missing or empty file yields DefaultConfig(). On JSON error it returns
// defaults with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return cfg, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return DefaultConfig(), pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", path)
	}
	_ = cfg.Validate()
	return cfg, nil
}

// Save writes the configuration to the given path in JSON format.
func (c *Config) Save(path string) error {
	_ = c.Validate()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", path)
	}
	return nil
}
