package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable failure. None of them is fatal to the process.
type Kind string

const (
	PermissionDenied              Kind = "PERMISSION_DENIED"
	DeviceNotFound                Kind = "DEVICE_NOT_FOUND"
	DeviceOtherFailure            Kind = "DEVICE_OTHER_FAILURE"
	DecodeNotFound                Kind = "DECODE_NOT_FOUND"
	ExtractionFailed              Kind = "EXTRACTION_FAILED"
	InvalidFileType               Kind = "INVALID_FILE_TYPE"
	FileLoadFailed                Kind = "FILE_LOAD_FAILED"
	InvalidManualInput            Kind = "INVALID_MANUAL_INPUT"
	EmptyMessage                  Kind = "EMPTY_MESSAGE"
	HandoffUnsupportedEnvironment Kind = "HANDOFF_UNSUPPORTED_ENVIRONMENT"
)

var defaultMessages = map[Kind]string{
	PermissionDenied:              "Camera access was denied. Allow camera access in your system settings and try again.",
	DeviceNotFound:                "No camera was found on this device.",
	DeviceOtherFailure:            "The camera could not be started.",
	DecodeNotFound:                "No QR code was found in the image.",
	ExtractionFailed:              "A QR code was read but it does not contain a phone number.",
	InvalidFileType:               "Please choose an image file.",
	FileLoadFailed:                "The image could not be loaded.",
	InvalidManualInput:            "Please enter a valid phone number (at least 10 digits).",
	EmptyMessage:                  "Please enter a message.",
	HandoffUnsupportedEnvironment: "Opening the messaging app works best on a mobile device.",
}

// Error is a classified failure carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrPermissionDenied   = &Error{Kind: PermissionDenied}
	ErrDeviceNotFound     = &Error{Kind: DeviceNotFound}
	ErrDeviceOther        = &Error{Kind: DeviceOtherFailure}
	ErrDecodeNotFound     = &Error{Kind: DecodeNotFound}
	ErrExtractionFailed   = &Error{Kind: ExtractionFailed}
	ErrInvalidFileType    = &Error{Kind: InvalidFileType}
	ErrFileLoadFailed     = &Error{Kind: FileLoadFailed}
	ErrInvalidManualInput = &Error{Kind: InvalidManualInput}
	ErrEmptyMessage       = &Error{Kind: EmptyMessage}
	ErrHandoffUnsupported = &Error{Kind: HandoffUnsupportedEnvironment}
)

// New returns an *Error of kind wrapping cause with the default message.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], Cause: cause}
}

// Newf returns an *Error of kind with a custom message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the text shown to the user for err. Unclassified errors
// fall back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return defaultMessages[e.Kind]
	}
	return err.Error()
}

// Halts reports whether a failure of this kind ends the current operation.
// Decode misses and extraction misses never stop an active polling session.
func (k Kind) Halts() bool {
	return k != DecodeNotFound && k != ExtractionFailed && k != HandoffUnsupportedEnvironment
}
