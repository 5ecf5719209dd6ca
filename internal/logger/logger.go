// Package logger provides structured logging setup for the eligibility service.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// In async mode records are handed to drain workers; the returned Closer
// flushes them.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		size, workers := cfg.BufferSize, cfg.Workers
		if size < 1 {
			size = 4096
		}
		if workers < 1 {
			workers = 1
		}
		ah := NewAsyncHandler(handler, size, workers)
		handler, closer = ah, ah
	}

	// Context attributes are resolved before records are queued.
	handler = &contextHandler{inner: handler}
	return slog.New(handler).With("service", cfg.Service), closer
}

// contextHandler copies request and application IDs from the context onto
// every record.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := ApplicationID(ctx); id != "" {
		rec.AddAttrs(slog.String("application_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
