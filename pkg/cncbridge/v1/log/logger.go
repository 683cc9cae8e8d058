// Package log defines the logging contract shared by the bridge packages.
package log

import (
	"context"
	"log/slog"
)

// Logger is the logging surface every bridge component is constructed with.
// The store, the bus and the poller only ever log through this interface, so a
// host application can route bridge diagnostics into its own logging setup.
type Logger interface {
	// Debugf, Infof, Warnf and Errorf format their arguments like fmt.Sprintf.
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	// Errorf should inspect a trailing error argument and log bridge error
	// types (observer, handler and tick step failures) as structured fields.
	Errorf(format string, args ...interface{})

	// Log writes msg at level with key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx is Log with a context, used by the poller so that tick spans
	// show up as trace_id/span_id on the record.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a child logger carrying the given attributes.
	With(args ...interface{}) Logger
	// IsEnabled reports whether records at level would be written.
	IsEnabled(level slog.Level) bool
}
