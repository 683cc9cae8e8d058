package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"go.opentelemetry.io/otel/trace"
)

const defaultLevel = slog.LevelInfo

// ParseLevel converts a level name (case-insensitive) to a slog.Level,
// falling back to INFO for unknown names.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultLevel
	}
}

// slogLogger implements bridgelog.Logger on top of log/slog.
type slogLogger struct {
	*slog.Logger
}

var _ bridgelog.Logger = (*slogLogger)(nil)

// NewLogger creates a Logger writing to writer (os.Stderr when nil) in the
// given format ("text" or "json") at the given level. Records logged with a
// context that carries a span get trace_id and span_id attributes.
func NewLogger(levelStr string, formatStr string, writer io.Writer) bridgelog.Logger {
	if writer == nil {
		writer = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(levelStr),
		ReplaceAttr: replaceLevelAttribute,
	}

	var base slog.Handler
	switch strings.ToLower(formatStr) {
	case "json":
		base = slog.NewJSONHandler(writer, opts)
	default:
		base = slog.NewTextHandler(writer, opts)
	}
	return &slogLogger{Logger: slog.New(NewOtelHandler(base))}
}

// NewDefaultLogger returns a text logger on os.Stderr.
func NewDefaultLogger(levelStr string) bridgelog.Logger {
	return NewLogger(levelStr, "text", os.Stderr)
}

// NewDiscardLogger returns a logger that drops every record. Handy in tests
// that only care about behaviour.
func NewDiscardLogger() bridgelog.Logger {
	return NewLogger("error", "text", io.Discard)
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// replaceLevelAttribute renders the level attribute as a fixed uppercase name.
func replaceLevelAttribute(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	name, exists := levelNames[level]
	if !exists {
		name = level.String()
	}
	a.Value = slog.StringValue(name)
	return a
}

func (l *slogLogger) logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, level) {
		return
	}
	l.Logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }

// Errorf logs at ERROR. When the last argument is an error, bridge error types
// are expanded into structured attributes (error_type, key/event/step,
// panicked) next to the formatted message.
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, slog.LevelError) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	var attrs []any
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			attrs = errorAttrs(err)
		}
	}
	l.Logger.Log(ctx, slog.LevelError, msg, attrs...)
}

// errorAttrs maps the bridge's error taxonomy onto log attributes.
func errorAttrs(err error) []any {
	var (
		oe *bridgeerrors.ObserverError
		he *bridgeerrors.HandlerError
		se *bridgeerrors.StepError
	)
	switch {
	case errors.As(err, &oe):
		return []any{
			slog.String("error_type", "ObserverError"),
			slog.String("key", oe.Key),
			slog.Bool("panicked", oe.Panicked),
			slog.String("error", causeText(oe.Cause, oe)),
		}
	case errors.As(err, &he):
		return []any{
			slog.String("error_type", "HandlerError"),
			slog.String("event", he.Event),
			slog.Bool("panicked", he.Panicked),
			slog.String("error", causeText(he.Cause, he)),
		}
	case errors.As(err, &se):
		return []any{
			slog.String("error_type", "StepError"),
			slog.String("step", se.Step),
			slog.Bool("panicked", se.Panicked),
			slog.String("error", causeText(se.Cause, se)),
		}
	default:
		return []any{slog.String("error", err.Error())}
	}
}

func causeText(cause error, outer error) string {
	if cause != nil {
		return cause.Error()
	}
	return outer.Error()
}

func (l *slogLogger) Log(level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(context.Background(), level, msg, args...)
}

func (l *slogLogger) LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(ctx, level, msg, args...)
}

func (l *slogLogger) With(args ...interface{}) bridgelog.Logger {
	return &slogLogger{Logger: l.Logger.With(args...)}
}

func (l *slogLogger) IsEnabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}

// OtelHandler is slog middleware that adds trace_id and span_id to records
// whose context carries a valid span.
type OtelHandler struct {
	next slog.Handler
}

// NewOtelHandler wraps next.
func NewOtelHandler(next slog.Handler) *OtelHandler {
	return &OtelHandler{next: next}
}

func (h *OtelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *OtelHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *OtelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewOtelHandler(h.next.WithAttrs(attrs))
}

func (h *OtelHandler) WithGroup(name string) slog.Handler {
	return NewOtelHandler(h.next.WithGroup(name))
}
