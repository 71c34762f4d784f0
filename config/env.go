package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QRDIAL_"

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return pkgerrors.Wrapf(err, "failed to stat env file %s", p)
		}
		if err := godotenv.Load(p); err != nil {
			return pkgerrors.Wrapf(err, "failed to load env file %s", p)
		}
	}
	return nil
}

// ApplyEnv overrides fields from QRDIAL_* variables found through lookup
// (os.LookupEnv in production) and re-validates.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return pkgerrors.Wrapf(err, "invalid %s%s", EnvPrefix, key)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return pkgerrors.Wrapf(err, "invalid %s%s", EnvPrefix, key)
		}
		*dst = b
		return nil
	}

	str("SOURCE", &c.Source)
	str("DEVICE", &c.Device)
	str("HANDOFF_SCHEME", &c.HandoffScheme)
	for key, dst := range map[string]*int{
		"WIDTH":               &c.Width,
		"HEIGHT":              &c.Height,
		"FRAME_RATE":          &c.FrameRate,
		"POLL_INTERVAL_MS":    &c.PollIntervalMs,
		"LIVE_MAX_DIMENSION":  &c.LiveMaxDimension,
		"IMAGE_MAX_DIMENSION": &c.ImageMaxDimension,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"DEBUG":            &c.Debug,
		"LENIENT_FALLBACK": &c.LenientFallback,
	} {
		if err := flag(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPrefix + "REGION"); ok {
		if err := c.SetRegion(v); err != nil {
			return err
		}
	}
	return c.Validate()
}

// SetRegion parses "x,y,w,h". An empty string clears the region.
func (c *Config) SetRegion(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		c.RegionX, c.RegionY, c.RegionW, c.RegionH = 0, 0, 0, 0
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return pkgerrors.Errorf("invalid region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return pkgerrors.Wrapf(err, "invalid region %q", s)
		}
		v[i] = n
	}
	c.RegionX, c.RegionY, c.RegionW, c.RegionH = v[0], v[1], v[2], v[3]
	return nil
}
