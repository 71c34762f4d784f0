package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/domain/decode"
	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/domain/scan"
	"github.com/soocke/qrdial-go/failure"
	"github.com/soocke/qrdial-go/handoff"
	"github.com/soocke/qrdial-go/images"
	"github.com/soocke/qrdial-go/notify"
)

var discardLogger = slog.New(slog.NewTextHandler(&discardWriter{}, nil))

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeScanner records commands; emit delivers outcomes synchronously.
type fakeScanner struct {
	mu         sync.Mutex
	startErr   error
	permission scan.PermissionState
	starts     int
	stops      int
	closes     int
	listeners  []scan.Listener
}

func (f *fakeScanner) StartScanning(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		if failure.KindOf(f.startErr) == failure.PermissionDenied {
			f.permission = scan.PermissionDenied
		}
		return f.startErr
	}
	f.permission = scan.PermissionGranted
	return nil
}

func (f *fakeScanner) StopScanning() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeScanner) Permission() scan.PermissionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakeScanner) AddListener(l scan.Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *fakeScanner) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeScanner) emit(o scan.Outcome) {
	f.mu.Lock()
	ls := append([]scan.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l(o)
	}
}

// countingDecoder wraps a real decoder and counts calls. When gate is set
// Decode signals entered and waits for gate.
type countingDecoder struct {
	mu      sync.Mutex
	inner   decode.Decoder
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (d *countingDecoder) Decode(f capture.Frame, m decode.Mode) (decode.Payload, bool) {
	d.mu.Lock()
	d.calls++
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return d.inner.Decode(f, m)
}

func (d *countingDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fixture struct {
	s       *Session
	scanner *fakeScanner
	decoder *countingDecoder
	sink    *notify.Recorder
	opened  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		scanner: &fakeScanner{permission: scan.PermissionUnknown},
		decoder: &countingDecoder{inner: decode.NewQRDecoder(decode.DefaultLiveMaxDimension)},
		sink:    &notify.Recorder{},
	}
	fx.s = New(fx.scanner, fx.decoder, fx.sink, discardLogger, Options{
		Composer: handoff.Composer{Scheme: "sms", GOOS: "linux"},
		Opener: handoff.OpenerFunc(func(uri string) error {
			fx.opened = append(fx.opened, uri)
			return nil
		}),
	})
	return fx
}

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	bm, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	img := image.NewGray(image.Rect(0, 0, 240, 240))
	draw.Draw(img, img.Bounds(), bm, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestApply_Transitions(t *testing.T) {
	s := State{Permission: scan.PermissionGranted}
	s = apply(s, evtScanStarted{})
	if !s.Scanning {
		t.Fatalf("scan start not applied")
	}
	s = apply(s, evtFailed{kind: failure.ExtractionFailed, text: "x"})
	if !s.Scanning {
		t.Fatalf("extraction failure must not stop scanning")
	}
	s = apply(s, evtFound{phone: "5551234567", payload: "tel:5551234567", source: SourceCamera})
	if s.Scanning || s.Phone != "5551234567" || s.ErrorKind != "" || s.LastPayload != "tel:5551234567" {
		t.Fatalf("found not applied: %+v", s)
	}
	s = apply(s, evtHandoff{uri: "sms:5551234567?body=hi"})
	if !s.HandoffAttempted {
		t.Fatalf("hand-off not recorded")
	}
	epoch := s.Epoch
	s = apply(s, evtReset{})
	if s != (State{Permission: scan.PermissionGranted, Epoch: epoch + 1}) {
		t.Fatalf("reset left state behind: %+v", s)
	}
	s = apply(apply(s, evtScanStarted{}), evtFailed{kind: failure.PermissionDenied, text: "denied"})
	if s.Scanning || s.ErrorKind != failure.PermissionDenied {
		t.Fatalf("device failure should stop scanning: %+v", s)
	}
}

func TestSession_CameraFound(t *testing.T) {
	fx := newFixture(t)
	var transitions int
	fx.s.AddListener(func(prev, next State) { transitions++ })

	if err := fx.s.StartCamera(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := fx.s.Snapshot()
	if !st.Scanning || st.Permission != scan.PermissionGranted {
		t.Fatalf("unexpected state %+v", st)
	}
	fx.scanner.emit(scan.Outcome{Kind: scan.OutcomeFound, Phone: "+12025550172", Payload: decode.Payload{Text: "tel:+12025550172"}})
	st = fx.s.Snapshot()
	if st.Scanning || st.Phone != "+12025550172" || st.PhoneSource != SourceCamera {
		t.Fatalf("found not applied: %+v", st)
	}
	if transitions == 0 {
		t.Fatalf("listeners not notified")
	}
	last := fx.sink.Statuses()[len(fx.sink.Statuses())-1]
	if !strings.Contains(last, "+12025550172") {
		t.Fatalf("status did not report number: %q", last)
	}
}

func TestSession_CameraAmbiguousKeepsScanning(t *testing.T) {
	fx := newFixture(t)
	if err := fx.s.StartCamera(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.scanner.emit(scan.Outcome{Kind: scan.OutcomeAmbiguous, Payload: decode.Payload{Text: "WIFI:S:cafe;;"}})
	st := fx.s.Snapshot()
	if !st.Scanning || st.LastPayload != "WIFI:S:cafe;;" || st.ErrorKind != failure.ExtractionFailed {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(fx.sink.Errors()) != 1 {
		t.Fatalf("expected one error notification, got %v", fx.sink.Errors())
	}
}

func TestSession_CameraPermissionDenied(t *testing.T) {
	fx := newFixture(t)
	fx.scanner.startErr = failure.New(failure.PermissionDenied, errors.New("EACCES"))
	err := fx.s.StartCamera(context.Background())
	if !errors.Is(err, failure.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	st := fx.s.Snapshot()
	if st.Scanning || st.Permission != scan.PermissionDenied || st.ErrorKind != failure.PermissionDenied {
		t.Fatalf("unexpected state %+v", st)
	}
	errs := fx.sink.Errors()
	if len(errs) != 1 || !strings.Contains(errs[0], "denied") {
		t.Fatalf("error notification = %v", errs)
	}
}

func TestSession_ResetDiscardsLateCameraResult(t *testing.T) {
	fx := newFixture(t)
	if err := fx.s.StartCamera(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.s.Reset()
	fx.scanner.emit(scan.Outcome{Kind: scan.OutcomeFound, Phone: "5551234567"})
	st := fx.s.Snapshot()
	if st.Phone != "" || st.Scanning {
		t.Fatalf("late result applied after reset: %+v", st)
	}
	if fx.scanner.stops == 0 {
		t.Fatalf("reset did not stop the scanner")
	}
}

func TestSession_UploadRejectsNonImage(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.s.UploadImage(context.Background(), images.File{Name: "notes.txt", MediaType: "text/plain", Data: []byte("tel:5551234567")})
	if !errors.Is(err, failure.ErrInvalidFileType) {
		t.Fatalf("expected InvalidFileType, got %v", err)
	}
	if fx.decoder.callCount() != 0 {
		t.Fatalf("decoder invoked for a non-image")
	}
	if st := fx.s.Snapshot(); st.Processing || st.ErrorKind != failure.InvalidFileType {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(fx.sink.Errors()) != 1 {
		t.Fatalf("expected one error notification")
	}
}

func TestSession_UploadImage(t *testing.T) {
	fx := newFixture(t)
	c, err := fx.s.UploadImage(context.Background(), images.NewFile("card.png", "image/png", qrPNG(t, "MECARD:N:Doe;TEL:+12025550172;;")))
	if err != nil || c != "+12025550172" {
		t.Fatalf("UploadImage = %q, %v", c, err)
	}
	st := fx.s.Snapshot()
	if st.Processing || st.Phone != c || st.PhoneSource != SourceImage {
		t.Fatalf("unexpected state %+v", st)
	}

	if _, err := fx.s.UploadImage(context.Background(), images.NewFile("blank.png", "", blankPNG(t))); !errors.Is(err, failure.ErrDecodeNotFound) {
		t.Fatalf("expected DecodeNotFound, got %v", err)
	}
	if fx.s.Snapshot().Phone != "" {
		t.Fatalf("new upload should clear the previous number")
	}

	_, err = fx.s.UploadImage(context.Background(), images.NewFile("menu.png", "image/png", qrPNG(t, "https://example.com/menu")))
	if !errors.Is(err, failure.ErrExtractionFailed) {
		t.Fatalf("expected ExtractionFailed, got %v", err)
	}
	if got := fx.s.Snapshot().LastPayload; got != "https://example.com/menu" {
		t.Fatalf("payload not kept for diagnostics: %q", got)
	}
}

func TestSession_ResetDiscardsInFlightUpload(t *testing.T) {
	fx := newFixture(t)
	fx.decoder.gate = make(chan struct{})
	fx.decoder.entered = make(chan struct{}, 1)

	errc := make(chan error, 1)
	go func() {
		_, err := fx.s.UploadImage(context.Background(), images.NewFile("card.png", "image/png", qrPNG(t, "tel:5551234567")))
		errc <- err
	}()
	<-fx.decoder.entered
	fx.s.Reset()
	close(fx.decoder.gate)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDiscarded) {
			t.Fatalf("expected ErrDiscarded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("upload did not return")
	}
	if st := fx.s.Snapshot(); st.Phone != "" || st.Processing {
		t.Fatalf("reset state polluted: %+v", st)
	}
}

func TestSession_UploadHonoursContext(t *testing.T) {
	fx := newFixture(t)
	fx.decoder.gate = make(chan struct{})
	fx.decoder.entered = make(chan struct{}, 1)
	defer close(fx.decoder.gate)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := fx.s.UploadImage(ctx, images.NewFile("card.png", "image/png", qrPNG(t, "tel:5551234567")))
		errc <- err
	}()
	<-fx.decoder.entered
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fx.s.Snapshot().Processing {
		t.Fatalf("processing flag left set")
	}
}

func TestSession_ManualNumber(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.s.EnterManualNumber("12345"); !errors.Is(err, failure.ErrInvalidManualInput) {
		t.Fatalf("expected InvalidManualInput, got %v", err)
	}
	c, err := fx.s.EnterManualNumber("(202) 555-0172")
	if err != nil || c != "2025550172" {
		t.Fatalf("EnterManualNumber = %q, %v", c, err)
	}
	if st := fx.s.Snapshot(); st.PhoneSource != SourceManual || st.ErrorKind != "" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestSession_ComposeAndHandOff(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.s.ComposeAndHandOff("hello"); !errors.Is(err, failure.ErrInvalidManualInput) {
		t.Fatalf("expected InvalidManualInput without a number, got %v", err)
	}
	if _, err := fx.s.EnterManualNumber("+44 20 7946 0958"); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.s.ComposeAndHandOff("   "); !errors.Is(err, failure.ErrEmptyMessage) {
		t.Fatalf("expected EmptyMessage, got %v", err)
	}
	if len(fx.opened) != 0 {
		t.Fatalf("opener called for an invalid request")
	}

	before := len(fx.sink.Errors())
	uri, err := fx.s.ComposeAndHandOff("Running late")
	if err != nil {
		t.Fatalf("hand-off: %v", err)
	}
	if uri != "sms:+442079460958?body=Running%20late" || len(fx.opened) != 1 || fx.opened[0] != uri {
		t.Fatalf("uri=%q opened=%v", uri, fx.opened)
	}
	errs := fx.sink.Errors()
	if len(errs) != before+1 || errs[len(errs)-1] != failure.Message(failure.ErrHandoffUnsupported) {
		t.Fatalf("expected desktop advisory, got %v", errs)
	}
	if st := fx.s.Snapshot(); !st.HandoffAttempted || st.HandoffURI != uri {
		t.Fatalf("hand-off not recorded: %+v", st)
	}
}

func TestSession_HandOffOpenerFailure(t *testing.T) {
	fx := newFixture(t)
	fx.s.opener = handoff.OpenerFunc(func(string) error { return errors.New("xdg-open: not found") })
	if _, err := fx.s.EnterManualNumber("5551234567"); err != nil {
		t.Fatal(err)
	}
	_, err := fx.s.ComposeAndHandOff("hi")
	if !errors.Is(err, failure.ErrHandoffUnsupported) {
		t.Fatalf("expected hand-off failure, got %v", err)
	}
	if fx.s.Snapshot().HandoffAttempted {
		t.Fatalf("failed hand-off recorded as attempted")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.s.Close()
	fx.s.Close()
	if fx.scanner.closes != 1 {
		t.Fatalf("scanner closed %d times", fx.scanner.closes)
	}
	if err := fx.s.StartCamera(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close = %v", err)
	}
}

// TestSession_ReplayCameraEndToEnd drives the real controller and decoder
// with replayed frames.
func TestSession_ReplayCameraEndToEnd(t *testing.T) {
	blank, err := png.Decode(bytes.NewReader(blankPNG(t)))
	if err != nil {
		t.Fatal(err)
	}
	code, err := png.Decode(bytes.NewReader(qrPNG(t, "tel:+1-202-555-0172")))
	if err != nil {
		t.Fatal(err)
	}
	provider := capture.NewReplayFrames(true, nil, blank, code)
	ctrl := scan.NewController(provider, decode.NewQRDecoder(decode.DefaultLiveMaxDimension), discardLogger, scan.Options{Interval: 5 * time.Millisecond})
	sink := &notify.Recorder{}
	s := New(ctrl, decode.NewQRDecoder(0), sink, discardLogger, Options{Extractor: phone.Extractor{}})
	defer s.Close()

	if err := s.StartCamera(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Snapshot().Phone == "" {
		time.Sleep(5 * time.Millisecond)
	}
	st := s.Snapshot()
	if st.Phone != "+12025550172" || st.Scanning {
		t.Fatalf("unexpected state %+v", st)
	}
	if ctrl.Active() {
		t.Fatalf("controller still polling after a result")
	}
	if run, total := s.ScanTime(); run <= 0 || total < run {
		t.Fatalf("scan time run=%v total=%v", run, total)
	}
}
