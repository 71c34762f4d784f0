package phone

import (
	"regexp"
	"strings"
)

const (
	MinDigits = 10
	MaxDigits = 15
)

// Candidate is a normalized phone number: digits, optionally prefixed with '+'.
type Candidate string

// Digits returns the number of digits, excluding a leading '+'.
func (c Candidate) Digits() int { return countDigits(string(c)) }

// International reports whether the candidate carries a leading '+'.
func (c Candidate) International() bool { return strings.HasPrefix(string(c), "+") }

func (c Candidate) String() string { return string(c) }

// FallbackMode selects how the whole payload is treated when no matcher
// produced a valid candidate.
type FallbackMode int

const (
	// FallbackPunctuationOnly strips non-digits only when the payload is made
	// of digits and phone punctuation, so unrelated digit runs in free text
	// are never glued together.
	FallbackPunctuationOnly FallbackMode = iota
	// FallbackAnyText strips every non-digit from any payload.
	FallbackAnyText
	// FallbackNone disables the fallback.
	FallbackNone
)

type matcher struct {
	name    string
	pattern *regexp.Regexp
}

// matchers are tried in this order; the first validated candidate wins.
var matchers = []matcher{
	{name: "formatted", pattern: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)},
	{name: "international", pattern: regexp.MustCompile(`\+?\d{10,15}`)},
	{name: "grouped", pattern: regexp.MustCompile(`\+?\d{1,4}[\s.-]?\d{2,4}[\s.-]?\d{3,4}[\s.-]?\d{3,4}`)},
	{name: "paired", pattern: regexp.MustCompile(`\+?\d{2,4}[\s.-]\d{2,3}[\s.-]\d{2,3}[\s.-]\d{2,4}(?:[\s.-]\d{2,4})?`)},
	{name: "tel-uri", pattern: regexp.MustCompile(`(?i)tel:\s*\+?[\d\s().-]+`)},
	{name: "phone-prefix", pattern: regexp.MustCompile(`(?i)phone:\s*\+?[\d\s().-]+`)},
}

var (
	schemePrefix    = regexp.MustCompile(`(?i)^\s*(?:tel|phone):`)
	punctuationOnly = regexp.MustCompile(`^[\d\s().+/-]*$`)
)

// Extractor maps decoded text to a phone number. The zero value uses
// FallbackPunctuationOnly.
type Extractor struct {
	Fallback FallbackMode
}

// Extract runs the default extractor.
func Extract(text string) (Candidate, bool) { return Extractor{}.Extract(text) }

// Extract returns the first candidate that validates, trying matchers in
// order and then the fallback. It never panics.
func (e Extractor) Extract(text string) (Candidate, bool) {
	for _, m := range matchers {
		for _, loc := range m.pattern.FindAllStringIndex(text, -1) {
			if !bounded(text, loc[0], loc[1]) {
				continue
			}
			if c, ok := Normalize(text[loc[0]:loc[1]]); ok {
				return c, true
			}
		}
	}
	return e.fallback(text)
}

func (e Extractor) fallback(text string) (Candidate, bool) {
	switch e.Fallback {
	case FallbackNone:
		return "", false
	case FallbackPunctuationOnly:
		if !punctuationOnly.MatchString(text) {
			return "", false
		}
	}
	return shape(digitsOnly(text), false)
}

// Normalize applies prefix stripping, digit cleanup, validation and output
// shaping to a single raw candidate.
func Normalize(raw string) (Candidate, bool) {
	s := strings.TrimSpace(raw)
	if loc := schemePrefix.FindStringIndex(s); loc != nil {
		s = strings.TrimSpace(s[loc[1]:])
	}
	if strings.HasPrefix(s, "+") {
		return shape(digitsOnly(s[1:]), true)
	}
	return shape(digitsOnly(s), false)
}

func shape(digits string, plus bool) (Candidate, bool) {
	n := len(digits)
	if n < MinDigits || n > MaxDigits {
		return "", false
	}
	if plus || n > MinDigits {
		return Candidate("+" + digits), true
	}
	return Candidate(digits), true
}

// bounded rejects matches that cut through a longer digit run: the match must
// not touch a digit on either side, and a bare match must not sit right after '+'.
func bounded(text string, start, end int) bool {
	if start > 0 {
		prev := text[start-1]
		if isDigit(prev) || (prev == '+' && text[start] != '+') {
			return false
		}
	}
	if end < len(text) && isDigit(text[end]) {
		return false
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			n++
		}
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
