package main

import (
	"io"
	"log/slog"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// NewLogger returns a structured slog.Logger writing JSON to w with the given level.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// parseLevel accepts debug, info, warn and error (any case).
func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, pkgerrors.Wrapf(err, "failed to parse log level %q", s)
	}
	return l, nil
}
