package scan

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/domain/decode"
	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/failure"
)

// Options configures a Controller. Zero fields take defaults.
type Options struct {
	Interval    time.Duration
	Constraints capture.Constraints
	Extract     ExtractFunc
}

// Controller owns the capture device and the poll loop of one scanning
// session at a time. A session is either inactive (no device, no loop) or
// active (both). Outcomes are delivered in order on a dispatcher goroutine;
// outcomes of a session cancelled by StopScanning or Close are dropped.
type Controller struct {
	provider    capture.Provider
	decoder     decode.Decoder
	extract     ExtractFunc
	interval    time.Duration
	constraints capture.Constraints
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	permission PermissionState
	epoch      uint64
	session    *scanSession
	last       Stats
	listeners  []Listener
	closed     bool

	polls       sync.WaitGroup
	dispatching atomic.Bool
	quit        chan struct{}
	deliveries  chan delivery
	dispatched  chan struct{}
}

type delivery struct {
	epoch   uint64
	outcome Outcome
}

type scanSession struct {
	id      string
	epoch   uint64
	device  capture.Device
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once

	ticks         atomic.Uint64
	emptyTicks    atomic.Uint64
	decoded       atomic.Uint64
	lastAmbiguous string
}

// NewController constructs a controller and starts its dispatcher.
func NewController(provider capture.Provider, decoder decode.Decoder, logger *slog.Logger, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Extract == nil {
		opts.Extract = phone.Extract
	}
	c := &Controller{
		provider:    provider,
		decoder:     decoder,
		extract:     opts.Extract,
		interval:    opts.Interval,
		constraints: opts.Constraints,
		logger:      logger,
		quit:        make(chan struct{}),
		deliveries:  make(chan delivery, 16),
		dispatched:  make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// AddListener registers l for all future outcomes.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Permission() PermissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// Active reports whether a poll loop is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Stats reports counters of the active session, or of the last one.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := c.session
	last := c.last
	c.mu.Unlock()
	if s == nil {
		return last
	}
	return s.stats()
}

// RequestPermission acquires a device only to confirm access and releases it
// immediately. Refusal moves the controller to Denied; a later successful
// probe (after the user changed settings) moves it back.
func (c *Controller) RequestPermission(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateRequesting
	if c.permission == PermissionUnknown {
		c.permission = PermissionPrompt
	}
	epoch := c.epoch
	c.mu.Unlock()

	dev, err := c.provider.Acquire(ctx, c.constraints)
	if dev != nil {
		if cerr := dev.Close(); cerr != nil && c.logger != nil {
			c.logger.Warn("release probe device", "error", cerr)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.settleCancelled()
		return ErrCancelled
	}
	if err != nil {
		return c.acquireFailed(err)
	}
	c.permission = PermissionGranted
	c.state = StateIdle
	if c.logger != nil {
		c.logger.Debug("capture permission granted", "provider", c.provider.Name())
	}
	return nil
}

// StartScanning acquires a device and starts polling it. It requests
// permission first when access was not yet granted. Calling it while a
// session is active is a no-op.
func (c *Controller) StartScanning(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	needPermission := c.permission != PermissionGranted
	c.mu.Unlock()

	if needPermission {
		if err := c.RequestPermission(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateRequesting
	epoch := c.epoch
	c.mu.Unlock()

	dev, err := c.provider.Acquire(ctx, c.constraints)

	c.mu.Lock()
	if c.epoch != epoch || c.closed || c.session != nil {
		raced := c.session != nil
		if !raced {
			c.settleCancelled()
		}
		c.mu.Unlock()
		if dev != nil {
			_ = dev.Close()
		}
		if raced {
			return nil
		}
		return ErrCancelled
	}
	if err != nil {
		defer c.mu.Unlock()
		return c.acquireFailed(err)
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &scanSession{
		id:     uuid.New().String(),
		epoch:  epoch,
		device: dev,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.session = s
	c.permission = PermissionGranted
	c.state = StateActive
	c.polls.Add(1)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("scanning started", "session", s.id, "provider", c.provider.Name(), "interval", c.interval)
	}
	go c.poll(s)
	return nil
}

// StopScanning cancels the poll loop and releases the device. It is
// idempotent and safe in any state; when it returns no further decode call
// is made for the stopped session and results still in flight are dropped.
func (c *Controller) StopScanning() {
	c.mu.Lock()
	c.epoch++
	s := c.session
	c.session = nil
	if c.state == StateActive || c.state == StateRequesting {
		c.state = StateIdle
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	c.mu.Lock()
	c.last = s.stats()
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Info("scanning stopped", "session", s.id, "ticks", s.ticks.Load())
	}
}

// Close stops any session and the dispatcher. No listener call starts after
// Close returns. Close may be called from a Listener; it then returns
// without waiting for that listener to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.StopScanning()
	close(c.quit)
	// A session that ended with a result may still be handing it over.
	c.polls.Wait()
	close(c.deliveries)
	if c.dispatching.Load() {
		return
	}
	<-c.dispatched
}

// settleCancelled resets a state left behind by an acquisition that lost a
// race with StopScanning. Caller holds c.mu.
func (c *Controller) settleCancelled() {
	if c.state == StateRequesting {
		c.state = StateIdle
	}
}

// acquireFailed records a failed acquisition. Caller holds c.mu.
func (c *Controller) acquireFailed(err error) error {
	kind := capture.Classify(err)
	if kind == failure.PermissionDenied {
		c.permission = PermissionDenied
		c.state = StateDenied
	} else {
		c.state = StateIdle
	}
	if c.logger != nil {
		c.logger.Warn("capture device unavailable", "provider", c.provider.Name(), "kind", string(kind), "error", err)
	}
	if failure.KindOf(err) == "" {
		return failure.New(kind, err)
	}
	return err
}

func (c *Controller) poll(s *scanSession) {
	defer c.polls.Done()
	defer close(s.done)
	defer c.releaseDevice(s)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if c.logger != nil {
			c.logger.Error("poll loop panic", "session", s.id, "error", r, "stack", string(debug.Stack()))
		}
		c.mu.Lock()
		if c.session == s {
			c.session = nil
			c.state = StateIdle
			c.last = s.stats()
		}
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		if c.tick(s) {
			return
		}
		// Re-arm only after the tick's work is done: at most one tick in flight.
		timer.Reset(c.interval)
	}
}

// tick captures, decodes and extracts once. It returns true when the
// session ended.
func (c *Controller) tick(s *scanSession) bool {
	frame, ok := s.device.CaptureFrame()
	if !ok {
		s.emptyTicks.Add(1)
		return false
	}
	if s.ctx.Err() != nil {
		capture.RecycleFrame(frame)
		return true
	}
	s.ticks.Add(1)
	payload, ok := c.decoder.Decode(frame, decode.ModeLiveTolerant)
	capture.RecycleFrame(frame)
	if !ok {
		return false
	}
	s.decoded.Add(1)

	candidate, ok := c.extract(payload.Text)
	if !ok {
		if payload.Text != s.lastAmbiguous {
			s.lastAmbiguous = payload.Text
			c.emit(s, Outcome{Kind: OutcomeAmbiguous, Payload: payload, SessionID: s.id, At: time.Now()}, false)
		}
		return false
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return true
	}
	c.session = nil
	c.state = StateIdle
	c.last = s.stats()
	c.mu.Unlock()

	s.cancel()
	c.releaseDevice(s)
	if c.logger != nil {
		c.logger.Info("phone number found", "session", s.id, "ticks", s.ticks.Load())
	}
	c.emit(s, Outcome{Kind: OutcomeFound, Phone: candidate, Payload: payload, SessionID: s.id, At: time.Now()}, true)
	return true
}

func (c *Controller) releaseDevice(s *scanSession) {
	s.release.Do(func() {
		if err := s.device.Close(); err != nil && c.logger != nil {
			c.logger.Warn("release capture device", "session", s.id, "error", err)
		}
	})
}

// emit queues an outcome. Ambiguous outcomes are dropped when the queue is
// full; a found outcome waits for room until the controller is closed.
func (c *Controller) emit(s *scanSession, o Outcome, wait bool) {
	d := delivery{epoch: s.epoch, outcome: o}
	if wait {
		select {
		case c.deliveries <- d:
		case <-c.quit:
		}
		return
	}
	select {
	case c.deliveries <- d:
	default:
		if c.logger != nil {
			c.logger.Debug("outcome dropped, dispatcher busy", "session", s.id, "kind", o.Kind.String())
		}
	}
}

func (c *Controller) dispatch() {
	defer close(c.dispatched)
	for d := range c.deliveries {
		c.mu.Lock()
		current := c.epoch
		listeners := append([]Listener(nil), c.listeners...)
		c.mu.Unlock()
		if d.epoch != current {
			if c.logger != nil {
				c.logger.Debug("stale outcome discarded", "session", d.outcome.SessionID, "kind", d.outcome.Kind.String())
			}
			continue
		}
		c.dispatching.Store(true)
		for _, l := range listeners {
			l(d.outcome)
		}
		c.dispatching.Store(false)
	}
}

func (s *scanSession) stats() Stats {
	st := Stats{
		SessionID:  s.id,
		Ticks:      s.ticks.Load(),
		EmptyTicks: s.emptyTicks.Load(),
		Decoded:    s.decoded.Load(),
	}
	if src, ok := s.device.(capture.StatsSource); ok {
		st.Capture = src.Stats()
	}
	return st
}
