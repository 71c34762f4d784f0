package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// Sink receives user-facing status and error text. No error codes cross it.
type Sink interface {
	Status(msg string)
	Error(msg string)
}

// Console prints notifications to a terminal, errors in red.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	status *color.Color
	err    *color.Color
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:    out,
		status: color.New(color.FgGreen),
		err:    color.New(color.Bold, color.FgRed),
	}
}

func (c *Console) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.status.Sprint("✔ ")+msg)
}

func (c *Console) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.err.Sprint("✘ ")+msg)
}

// Log forwards notifications to a structured logger.
type Log struct{ Logger *slog.Logger }

func (l Log) Status(msg string) {
	if l.Logger != nil {
		l.Logger.Info("notify", "status", msg)
	}
}

func (l Log) Error(msg string) {
	if l.Logger != nil {
		l.Logger.Warn("notify", "error", msg)
	}
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Status(msg string) {
	for _, s := range m {
		s.Status(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, s := range m {
		s.Error(msg)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Status(string) {}
func (Discard) Error(string)  {}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (r *Recorder) Status(msg string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, msg)
	r.mu.Unlock()
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

// Statuses returns a copy of the recorded status lines.
func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

// Errors returns a copy of the recorded error lines.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
