// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ParseLevel reads a level name, defaulting to info when empty.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// New returns a logger writing JSON to w, or human readable lines when
// pretty is set.
func New(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	zerolog.DurationFieldUnit = time.Second
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
