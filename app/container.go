package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soocke/qrdial-go/config"
	"github.com/soocke/qrdial-go/debug"
	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/domain/decode"
	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/domain/scan"
	"github.com/soocke/qrdial-go/domain/session"
	"github.com/soocke/qrdial-go/handoff"
	"github.com/soocke/qrdial-go/notify"
)

// Container assembles the capture provider, decoder, controller and session.
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	Sink       notify.Sink
	Provider   capture.Provider
	Decoder    *decode.QRDecoder
	Extractor  phone.Extractor
	Controller *scan.Controller
	Session    *session.Session

	stopDebug context.CancelFunc
}

// Options override collaborators for tests and alternative front ends.
type Options struct {
	Provider capture.Provider
	Opener   handoff.Opener
}

// NewProvider returns the capture provider selected by cfg.Source.
func NewProvider(cfg *config.Config, logger *slog.Logger) (capture.Provider, error) {
	switch cfg.Source {
	case config.SourceCamera:
		return capture.NewCameraProvider(logger), nil
	case config.SourceScreen:
		return capture.NewScreenProvider(logger), nil
	case config.SourceReplay:
		return capture.NewReplayDir(true), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// Constraints maps cfg onto device constraints.
func Constraints(cfg *config.Config) capture.Constraints {
	return capture.Constraints{
		Device:    cfg.Device,
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FrameRate,
		Region:    cfg.Region(),
	}
}

// Extractor returns the phone extractor configured by cfg.
func Extractor(cfg *config.Config) phone.Extractor {
	if cfg.LenientFallback {
		return phone.Extractor{Fallback: phone.FallbackAnyText}
	}
	return phone.Extractor{Fallback: phone.FallbackPunctuationOnly}
}

// BuildContainer constructs all components. Debug loggers start when
// cfg.Debug is set and stop on Close.
func BuildContainer(cfg *config.Config, logger *slog.Logger, sink notify.Sink, opts Options) (*Container, error) {
	if sink == nil {
		sink = notify.Discard{}
	}
	c := &Container{Config: cfg, Logger: logger, Sink: sink}
	c.Provider = opts.Provider
	if c.Provider == nil {
		p, err := NewProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.Provider = p
	}
	c.Decoder = decode.NewQRDecoder(cfg.LiveMaxDimension)
	c.Extractor = Extractor(cfg)
	c.Controller = scan.NewController(c.Provider, c.Decoder, logger, scan.Options{
		Interval:    cfg.PollInterval(),
		Constraints: Constraints(cfg),
		Extract:     c.Extractor.Extract,
	})
	c.Session = session.New(c.Controller, c.Decoder, sink, logger, session.Options{
		Extractor:         c.Extractor,
		Composer:          handoff.NewComposer(cfg.HandoffScheme),
		Opener:            opts.Opener,
		MaxImageDimension: cfg.ImageMaxDimension,
		Region:            cfg.Region(),
	})
	if cfg.Debug {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopDebug = cancel
		debug.StartGoroutineLogger(ctx, time.Second, logger)
		debug.StartMemLogger(ctx, 2*time.Second, logger, c.scanAttrs)
	}
	return c, nil
}

// Lister returns the provider's device lister, if it has one.
func (c *Container) Lister() (capture.Lister, bool) {
	l, ok := c.Provider.(capture.Lister)
	return l, ok
}

// Close tears the session down and releases any capture device.
func (c *Container) Close() {
	if c.stopDebug != nil {
		c.stopDebug()
	}
	c.Session.Close()
}

func (c *Container) scanAttrs() []slog.Attr {
	st := c.Controller.Stats()
	return []slog.Attr{
		slog.String("scan_session", st.SessionID),
		slog.Uint64("scan_ticks", st.Ticks),
		slog.Uint64("scan_empty_ticks", st.EmptyTicks),
		slog.Uint64("scan_decoded", st.Decoded),
		slog.Uint64("frames_captured", st.Capture.Captures),
		slog.Uint64("frames_skipped", st.Capture.Skipped),
		slog.Duration("avg_capture", st.Capture.AvgCapture),
	}
}
