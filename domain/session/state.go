package session

import (
	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/domain/scan"
	"github.com/soocke/qrdial-go/failure"
)

// Source tells where the current phone number came from.
type Source string

const (
	SourceNone   Source = ""
	SourceCamera Source = "camera"
	SourceImage  Source = "image"
	SourceManual Source = "manual"
)

// State is the complete session-derived state. It is a comparable value;
// every change goes through apply.
type State struct {
	Permission       scan.PermissionState
	Scanning         bool
	Processing       bool
	LastPayload      string
	Phone            phone.Candidate
	PhoneSource      Source
	HandoffAttempted bool
	HandoffURI       string
	ErrorKind        failure.Kind
	ErrorText        string
	// Epoch changes on reset; async work started under an older epoch is
	// discarded.
	Epoch uint64
}

// HasPhone reports whether a number usable for hand-off is present.
func (s State) HasPhone() bool { return s.Phone.Digits() >= phone.MinDigits }

type event interface{ isEvent() }

type evtPermission struct{ state scan.PermissionState }
type evtScanStarted struct{}
type evtScanStopped struct{}
type evtFileStarted struct{}
type evtFileFinished struct{}
type evtDecoded struct{ payload string }
type evtFound struct {
	phone   phone.Candidate
	payload string
	source  Source
}
type evtHandoff struct{ uri string }
type evtFailed struct {
	kind failure.Kind
	text string
}
type evtReset struct{}

func (evtPermission) isEvent()   {}
func (evtScanStarted) isEvent()  {}
func (evtScanStopped) isEvent()  {}
func (evtFileStarted) isEvent()  {}
func (evtFileFinished) isEvent() {}
func (evtDecoded) isEvent()      {}
func (evtFound) isEvent()        {}
func (evtHandoff) isEvent()      {}
func (evtFailed) isEvent()       {}
func (evtReset) isEvent()        {}

// apply is the pure transition function of the session.
func apply(s State, e event) State {
	switch e := e.(type) {
	case evtPermission:
		s.Permission = e.state
	case evtScanStarted:
		s.Scanning = true
		s.clearResult()
	case evtScanStopped:
		s.Scanning = false
	case evtFileStarted:
		s.Processing = true
		s.clearResult()
	case evtFileFinished:
		s.Processing = false
	case evtDecoded:
		s.LastPayload = e.payload
	case evtFound:
		s.Phone = e.phone
		s.PhoneSource = e.source
		if e.payload != "" {
			s.LastPayload = e.payload
		}
		if e.source == SourceCamera {
			s.Scanning = false
		}
		s.ErrorKind, s.ErrorText = "", ""
		s.HandoffAttempted, s.HandoffURI = false, ""
	case evtHandoff:
		s.HandoffAttempted = true
		s.HandoffURI = e.uri
		s.ErrorKind, s.ErrorText = "", ""
	case evtFailed:
		s.ErrorKind, s.ErrorText = e.kind, e.text
		if e.kind.Halts() && isDeviceFailure(e.kind) {
			s.Scanning = false
		}
	case evtReset:
		s = State{Permission: s.Permission, Epoch: s.Epoch + 1}
	}
	return s
}

func (s *State) clearResult() {
	s.Phone, s.PhoneSource = "", SourceNone
	s.LastPayload = ""
	s.ErrorKind, s.ErrorText = "", ""
	s.HandoffAttempted, s.HandoffURI = false, ""
}

func isDeviceFailure(k failure.Kind) bool {
	switch k {
	case failure.PermissionDenied, failure.DeviceNotFound, failure.DeviceOtherFailure:
		return true
	}
	return false
}
