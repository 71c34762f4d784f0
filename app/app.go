package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/domain/session"
	"github.com/soocke/qrdial-go/failure"
	"github.com/soocke/qrdial-go/images"
)

// ErrNoResult is returned when a scan ends without a phone number.
var ErrNoResult = errors.New("no phone number found")

// ScanOptions controls a blocking terminal scan.
type ScanOptions struct {
	// Timeout ends the scan; zero waits until ctx is done.
	Timeout time.Duration
	// Message, when set, is handed off to the messaging app with the number.
	Message string
	// Progress is the interval of progress log lines; zero disables them.
	Progress time.Duration
}

// Scan starts the camera and blocks until a number is found, ctx is done or
// the timeout elapses. The camera is released before Scan returns.
func (c *Container) Scan(ctx context.Context, opts ScanOptions) (phone.Candidate, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	found := make(chan phone.Candidate, 1)
	c.Session.AddListener(func(prev, next session.State) {
		if next.PhoneSource == session.SourceCamera && next.Phone != "" && next.Phone != prev.Phone {
			select {
			case found <- next.Phone:
			default:
			}
		}
	})

	if err := c.Session.StartCamera(ctx); err != nil {
		return "", err
	}
	defer c.Session.StopCamera()

	var progress <-chan time.Time
	if opts.Progress > 0 {
		t := time.NewTicker(opts.Progress)
		defer t.Stop()
		progress = t.C
	}
	for {
		select {
		case p := <-found:
			return p, c.handOff(opts.Message)
		case <-progress:
			c.logProgress()
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoResult, ctx.Err())
		}
	}
}

// DecodeFile reads an image file, decodes it once in strict mode and extracts
// a phone number, handing it off when message is set.
func (c *Container) DecodeFile(ctx context.Context, path, message string) (phone.Candidate, error) {
	f, err := images.ReadFile(path)
	if err != nil {
		c.Sink.Error(failure.Message(err))
		return "", err
	}
	p, err := c.Session.UploadImage(ctx, f)
	if err != nil {
		return "", err
	}
	return p, c.handOff(message)
}

// Send sets number manually and hands message off to the messaging app.
func (c *Container) Send(number, message string) (string, error) {
	if _, err := c.Session.EnterManualNumber(number); err != nil {
		return "", err
	}
	return c.Session.ComposeAndHandOff(message)
}

func (c *Container) handOff(message string) error {
	if message == "" {
		return nil
	}
	_, err := c.Session.ComposeAndHandOff(message)
	return err
}

func (c *Container) logProgress() {
	if c.Logger == nil {
		return
	}
	run, _ := c.Session.ScanTime()
	st := c.Controller.Stats()
	c.Logger.Info("scanning",
		"session", st.SessionID,
		"elapsed", run.Round(time.Millisecond).String(),
		"ticks", st.Ticks,
		"empty_ticks", st.EmptyTicks,
		"decoded", st.Decoded,
		"frames", st.Capture.Captures,
	)
}
