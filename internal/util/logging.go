package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogTimeFormat is the timestamp layout of the pipe-delimited log file.
// The admin log endpoints and the monitor parse lines of the form
// "2006-01-02 15:04:05 | LEVEL | message".
const LogTimeFormat = "2006-01-02 15:04:05"

type loggerContextKey struct{}

// InitLogger configures the global slog logger with JSON output on stdout.
// When logFile is non-empty, records are also appended to it in the
// pipe-delimited format consumed by the dashboard log endpoints.
// Accepts levels: debug, info, warn, error. Defaults to info on unknown input.
func InitLogger(level, logFile string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	handler := slog.Handler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: true,
	}))
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		handler = newTeeHandler(handler, newPipeHandler(f, slogLevel))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the context logger, or the default one.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func newTeeHandler(primary, secondary slog.Handler) slog.Handler {
	return &teeHandler{primary: primary, secondary: secondary}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	if h.primary.Enabled(ctx, rec.Level) {
		firstErr = h.primary.Handle(ctx, rec.Clone())
	}
	if h.secondary.Enabled(ctx, rec.Level) {
		if err := h.secondary.Handle(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// pipeHandler writes "timestamp | LEVEL | message key=value ..." lines.
type pipeHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

func newPipeHandler(w io.Writer, level slog.Level) *pipeHandler {
	return &pipeHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *pipeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *pipeHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Time.Format(LogTimeFormat))
	b.WriteString(" | ")
	b.WriteString(levelName(rec.Level))
	b.WriteString(" | ")
	b.WriteString(rec.Message)
	for _, attr := range h.attrs {
		writeAttr(&b, attr)
	}
	rec.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, attr)
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *pipeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &pipeHandler{mu: h.mu, w: h.w, level: h.level, attrs: merged}
}

func (h *pipeHandler) WithGroup(_ string) slog.Handler {
	// Groups are flattened in the file format.
	return h
}

func writeAttr(b *strings.Builder, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(attr.Value.String())
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
