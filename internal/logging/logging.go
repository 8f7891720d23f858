// Package logging builds the process logger of the bizdash binaries: a text
// console handler plus an optional Seq sink.
//
// Library packages never import slog; they take a Printf-style Logger, which
// Printf adapts from the process logger.
package logging

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	slogseq "github.com/sokkalf/slog-seq"
)

// Options configure Setup.
type Options struct {
	// Writer receives console output (default os.Stderr).
	Writer io.Writer
	Level  slog.Level

	// SeqURL enables the Seq sink when non-empty,
	// e.g. "http://localhost:5341".
	SeqURL        string
	FlushInterval time.Duration // Seq batching interval (default 2s)
	BatchSize     int           // Seq batch size (default 50)
}

// multiHandler forwards log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Setup returns the process logger and a cleanup function that flushes the
// Seq sink. The cleanup function is never nil.
func Setup(opts Options) (*slog.Logger, func()) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	console := slog.NewTextHandler(w, hopts)

	if opts.SeqURL == "" {
		return slog.New(console), func() {}
	}

	flush := opts.FlushInterval
	if flush <= 0 {
		flush = 2 * time.Second
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 50
	}
	_, seq := slogseq.NewLogger(
		opts.SeqURL,
		slogseq.WithBatchSize(batch),
		slogseq.WithFlushInterval(flush),
		slogseq.WithHandlerOptions(hopts),
	)
	// Seq unavailable: console only.
	if seq == nil {
		return slog.New(console), func() {}
	}

	logger := slog.New(&multiHandler{handlers: []slog.Handler{console, seq}})
	return logger, func() { seq.Close() }
}

// Printf adapts l to the Printf-style Logger of the library packages. Every
// line is logged at level.
func Printf(l *slog.Logger, level slog.Level) *log.Logger {
	return slog.NewLogLogger(l.Handler(), level)
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive,
// with optional offsets such as "info+2").
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
