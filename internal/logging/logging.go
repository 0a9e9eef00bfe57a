// Package logging builds the process slog logger on top of a sink that never
// lets a failed write escape to the caller.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// SyncWriter serialises writes from the notification dispatchers and the
// foreground call path. Write errors, including writes after Close, are
// swallowed.
type SyncWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.w == nil {
		return len(p), nil
	}
	// a broken sink must not fail the conversion that is logging
	_, _ = s.w.Write(p)
	return len(p), nil
}

// Close stops forwarding writes. The underlying writer is closed if it is an
// io.Closer other than stdout/stderr.
func (s *SyncWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.w.(io.Closer); ok && s.w != os.Stdout && s.w != os.Stderr {
		_ = c.Close()
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing text (default) or json records to w.
func New(w io.Writer, level, format string) (*slog.Logger, *SyncWriter) {
	sink := NewSyncWriter(w)
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(sink, opts)
	} else {
		h = slog.NewTextHandler(sink, opts)
	}
	return slog.New(h), sink
}

// Discard is a logger that drops everything; handy for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
