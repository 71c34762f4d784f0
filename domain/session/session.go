package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/domain/decode"
	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/domain/scan"
	"github.com/soocke/qrdial-go/failure"
	"github.com/soocke/qrdial-go/handoff"
	"github.com/soocke/qrdial-go/images"
	"github.com/soocke/qrdial-go/notify"
)

// ErrDiscarded is returned when Reset overtook an operation; its result was
// not applied.
var ErrDiscarded = errors.New("session: result discarded after reset")

// ErrClosed is returned by commands on a closed session.
var ErrClosed = errors.New("session: closed")

// Scanner is the acquisition controller as seen by the session.
type Scanner interface {
	StartScanning(ctx context.Context) error
	StopScanning()
	Permission() scan.PermissionState
	AddListener(scan.Listener)
	Close()
}

// Listener observes state transitions.
type Listener func(prev, next State)

// Options configures a Session. Zero fields take defaults.
type Options struct {
	Extractor phone.Extractor
	Composer  handoff.Composer
	Opener    handoff.Opener
	// MaxImageDimension bounds still images before decoding; negative
	// disables shrinking.
	MaxImageDimension int
	// Region crops still images before decoding when non-empty.
	Region image.Rectangle
}

// Session coordinates camera scanning, still-image decoding, manual entry
// and the messaging hand-off, and reports every outcome to a notification
// sink.
type Session struct {
	scanner   Scanner
	decoder   decode.Decoder
	extractor phone.Extractor
	composer  handoff.Composer
	opener    handoff.Opener
	sink      notify.Sink
	logger    *slog.Logger
	maxDim    int
	region    image.Rectangle

	mu        sync.Mutex
	state     State
	clock     scanClock
	listeners []Listener
	closed    bool
}

// New wires a session to scanner and decoder and subscribes to scan outcomes.
func New(scanner Scanner, decoder decode.Decoder, sink notify.Sink, logger *slog.Logger, opts Options) *Session {
	if sink == nil {
		sink = notify.Discard{}
	}
	if opts.Opener == nil {
		opts.Opener = handoff.BrowserOpener{}
	}
	if opts.Composer == (handoff.Composer{}) {
		opts.Composer = handoff.NewComposer(handoff.DefaultScheme)
	}
	switch {
	case opts.MaxImageDimension == 0:
		opts.MaxImageDimension = images.DefaultMaxDimension
	case opts.MaxImageDimension < 0:
		opts.MaxImageDimension = 0
	}
	s := &Session{
		scanner:   scanner,
		decoder:   decoder,
		extractor: opts.Extractor,
		composer:  opts.Composer,
		opener:    opts.Opener,
		sink:      sink,
		logger:    logger,
		maxDim:    opts.MaxImageDimension,
		region:    opts.Region,
	}
	s.state.Permission = scanner.Permission()
	scanner.AddListener(s.onOutcome)
	return s
}

// AddListener registers l for all future transitions.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ScanTime returns the duration of the current (or last) camera run and the
// total scanning time of this session.
func (s *Session) ScanTime() (run, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.observe(s.state.Scanning, time.Now())
	return s.clock.values()
}

// StartCamera starts scanning, asking for camera access first when needed.
// It returns once the device is streaming; the number is reported later.
func (s *Session) StartCamera(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	var epoch uint64
	started := s.commit(func(st State) bool {
		epoch = st.Epoch
		return !st.Scanning
	}, evtScanStarted{})
	if !started {
		return nil
	}
	s.sink.Status("Starting camera.")

	err := s.scanner.StartScanning(ctx)
	s.commit(nil, evtPermission{s.scanner.Permission()})
	if err != nil {
		cancelled := errors.Is(err, scan.ErrCancelled) || errors.Is(err, context.Canceled)
		events := []event{evtScanStopped{}}
		if !cancelled {
			events = append(events, failed(err))
		}
		if s.commit(atEpoch(epoch), events...) && !cancelled {
			s.report("start camera", err)
		}
		return err
	}
	if !s.commit(atEpoch(epoch)) {
		s.scanner.StopScanning()
		return ErrDiscarded
	}
	s.sink.Status("Scanning for a QR code.")
	return nil
}

// StopCamera stops scanning and releases the camera. Safe in any state.
func (s *Session) StopCamera() {
	s.scanner.StopScanning()
	wasScanning := s.Snapshot().Scanning
	s.commit(nil, evtScanStopped{})
	if wasScanning {
		s.sink.Status("Camera stopped.")
	}
}

func (s *Session) onOutcome(o scan.Outcome) {
	scanning := func(st State) bool { return st.Scanning }
	switch o.Kind {
	case scan.OutcomeFound:
		if !s.commit(scanning, evtFound{phone: o.Phone, payload: o.Payload.Text, source: SourceCamera}) {
			s.debug("late camera result discarded", "session", o.SessionID)
			return
		}
		if s.logger != nil {
			s.logger.Info("phone number from camera", "session", o.SessionID)
		}
		s.sink.Status("Phone number found: " + o.Phone.String())
	case scan.OutcomeAmbiguous:
		err := failure.New(failure.ExtractionFailed, nil)
		if s.commit(scanning, evtDecoded{payload: o.Payload.Text}, failed(err)) {
			s.report("camera payload", err)
		}
	}
}

// UploadImage decodes one still image in strict mode and extracts a phone
// number from it. Non-image files are rejected without decoding.
func (s *Session) UploadImage(ctx context.Context, f images.File) (phone.Candidate, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	var epoch uint64
	s.commit(func(st State) bool {
		epoch = st.Epoch
		return true
	}, evtFileStarted{})

	type result struct {
		payload decode.Payload
		ok      bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		img, err := images.Decode(f, s.maxDim)
		if err != nil {
			done <- result{err: err}
			return
		}
		if !s.region.Empty() {
			img, _ = images.Crop(img, s.region)
		}
		frame := capture.CopyFrame(img)
		p, ok := s.decoder.Decode(frame, decode.ModeStrictBest)
		capture.RecycleFrame(frame)
		done <- result{payload: p, ok: ok}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		s.commit(atEpoch(epoch), evtFileFinished{})
		return "", ctx.Err()
	}
	if r.err != nil {
		return "", s.fileFailed(epoch, r.err)
	}
	if !r.ok {
		return "", s.fileFailed(epoch, failure.Newf(failure.DecodeNotFound, nil, "No QR code was found in %s.", fileLabel(f)))
	}
	c, ok := s.extractor.Extract(r.payload.Text)
	if !ok {
		err := failure.New(failure.ExtractionFailed, nil)
		if !s.commit(atEpoch(epoch), evtDecoded{payload: r.payload.Text}, evtFileFinished{}, failed(err)) {
			return "", ErrDiscarded
		}
		s.report("image payload", err)
		return "", err
	}
	if !s.commit(atEpoch(epoch), evtFound{phone: c, payload: r.payload.Text, source: SourceImage}, evtFileFinished{}) {
		return "", ErrDiscarded
	}
	s.sink.Status("Phone number found: " + c.String())
	return c, nil
}

func (s *Session) fileFailed(epoch uint64, err error) error {
	if !s.commit(atEpoch(epoch), evtFileFinished{}, failed(err)) {
		return ErrDiscarded
	}
	s.report("image", err)
	return err
}

// EnterManualNumber validates typed input with the same extraction rules as
// scanned payloads.
func (s *Session) EnterManualNumber(text string) (phone.Candidate, error) {
	c, ok := s.extractor.Extract(text)
	if !ok {
		err := failure.New(failure.InvalidManualInput, nil)
		s.commit(nil, failed(err))
		s.report("manual number", err)
		return "", err
	}
	s.commit(nil, evtFound{phone: c, source: SourceManual})
	s.sink.Status("Phone number set: " + c.String())
	return c, nil
}

// ComposeAndHandOff asks the environment to open the messaging app with the
// current number and message filled in. Delivery is never confirmed.
func (s *Session) ComposeAndHandOff(message string) (string, error) {
	st := s.Snapshot()
	uri, err := s.composer.Compose(st.Phone, message)
	if err != nil {
		s.commit(nil, failed(err))
		s.report("hand-off", err)
		return "", err
	}
	if !s.composer.Supported() {
		s.sink.Error(failure.Message(failure.New(failure.HandoffUnsupportedEnvironment, nil)))
	}
	if err := s.opener.Open(uri); err != nil {
		herr := failure.Newf(failure.HandoffUnsupportedEnvironment, err, "The messaging app could not be opened.")
		s.commit(nil, failed(herr))
		s.report("hand-off", herr)
		return uri, herr
	}
	s.commit(nil, evtHandoff{uri: uri})
	s.sink.Status("Opening messaging app for " + st.Phone.String() + ".")
	return uri, nil
}

// Reset stops the camera and clears every session-derived value. Results of
// operations started before the reset are discarded.
func (s *Session) Reset() {
	s.scanner.StopScanning()
	s.commit(nil, evtReset{})
	s.sink.Status("Session reset.")
}

// Close releases the camera and the scanner. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.scanner.Close()
	s.commit(nil, evtScanStopped{})
}

// commit applies events when guard accepts the current state and notifies
// listeners outside the lock. It reports whether the events were applied.
func (s *Session) commit(guard func(State) bool, events ...event) bool {
	s.mu.Lock()
	if guard != nil && !guard(s.state) {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	for _, e := range events {
		s.state = apply(s.state, e)
	}
	next := s.state
	s.clock.observe(next.Scanning, time.Now())
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	if prev != next {
		for _, l := range listeners {
			l(prev, next)
		}
	}
	return true
}

func atEpoch(epoch uint64) func(State) bool {
	return func(st State) bool { return st.Epoch == epoch }
}

func failed(err error) evtFailed {
	return evtFailed{kind: failure.KindOf(err), text: failure.Message(err)}
}

func (s *Session) report(op string, err error) {
	if s.logger != nil {
		s.logger.Warn(op+" failed", "kind", string(failure.KindOf(err)), "error", err)
	}
	s.sink.Error(failure.Message(err))
}

func (s *Session) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func fileLabel(f images.File) string {
	if f.Name == "" {
		return "the image"
	}
	return f.Name
}
