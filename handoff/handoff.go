package handoff

import (
	"net/url"
	"runtime"
	"strings"

	"github.com/pkg/browser"

	"github.com/soocke/qrdial-go/domain/phone"
	"github.com/soocke/qrdial-go/failure"
)

// DefaultScheme is the URI scheme of the platform messaging hand-off.
const DefaultScheme = "sms"

// Opener asks the environment to navigate to a URI. Nothing is awaited beyond
// the request itself.
type Opener interface {
	Open(uri string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(uri string) error

func (f OpenerFunc) Open(uri string) error { return f(uri) }

// BrowserOpener opens URIs with the desktop's default handler.
type BrowserOpener struct{}

func (BrowserOpener) Open(uri string) error { return browser.OpenURL(uri) }

// Composer validates a hand-off request and builds its URI.
type Composer struct {
	Scheme string
	GOOS   string
}

// NewComposer returns a composer for scheme on the running platform.
func NewComposer(scheme string) Composer {
	return Composer{Scheme: scheme, GOOS: runtime.GOOS}
}

// Compose validates number and message and returns the hand-off URI.
func (c Composer) Compose(number phone.Candidate, message string) (string, error) {
	if number.Digits() < phone.MinDigits {
		return "", failure.Newf(failure.InvalidManualInput, nil,
			"Scan a QR code or enter a phone number (at least %d digits) first.", phone.MinDigits)
	}
	if strings.TrimSpace(message) == "" {
		return "", failure.New(failure.EmptyMessage, nil)
	}
	return BuildURI(c.Scheme, number, message), nil
}

// Supported reports whether the platform has a messaging app that handles the
// scheme. Desktops usually do not; the hand-off is still attempted there.
func (c Composer) Supported() bool {
	switch c.GOOS {
	case "android", "ios":
		return true
	}
	return false
}

// BuildURI returns <scheme>:<number>?body=<message>. Spaces in the message
// are encoded as %20.
func BuildURI(scheme string, number phone.Candidate, message string) string {
	if scheme == "" {
		scheme = DefaultScheme
	}
	body := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return scheme + ":" + string(number) + "?body=" + body
}
