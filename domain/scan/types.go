package scan

import (
	"errors"
	"time"

	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/domain/decode"
	"github.com/soocke/qrdial-go/domain/phone"
)

// DefaultPollInterval is the delay between the end of one poll tick and the
// start of the next.
const DefaultPollInterval = 200 * time.Millisecond

var (
	// ErrCancelled is returned when StopScanning or Close raced an acquisition.
	ErrCancelled = errors.New("scan: cancelled")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("scan: controller closed")
)

// PermissionState tracks what the capture provider last told us about access.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionPrompt
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionPrompt:
		return "prompt"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies a poll result.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeFound
	// OutcomeAmbiguous is reported once per distinct payload text within a
	// scanning session; polling continues either way.
	OutcomeAmbiguous
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Outcome is reported to listeners. Ambiguous outcomes carry a payload that
// decoded but did not contain a phone number; a code that stays in view is
// reported once, not on every tick.
type Outcome struct {
	Kind      OutcomeKind
	Phone     phone.Candidate
	Payload   decode.Payload
	SessionID string
	At        time.Time
}

// Listener receives outcomes on the controller's dispatcher goroutine. It
// may call StopScanning or Close; outcomes queue behind a slow listener.
type Listener func(Outcome)

// ExtractFunc maps payload text to a phone number.
type ExtractFunc func(string) (phone.Candidate, bool)

// Stats describes the current or last scanning session.
type Stats struct {
	SessionID  string
	Ticks      uint64
	EmptyTicks uint64
	Decoded    uint64
	Capture    capture.Stats
}
