// Package log is the structured logger used across the gateway. It wraps
// log/slog with trace correlation, stack capture above a configurable level
// and error chain fields.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a "stack" field. Zero
	// (info) is treated as unset and means error.
	StacktraceLevel slog.Level
	JsonFormat      bool

	// IncludeErrorLinks adds the call site of every wrap in an error chain,
	// up to MaxErrorLinks (default 8).
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
}

type nop struct{}

func (nop) With(...any) Logger                           { return nop{} }
func (nop) Debug(context.Context, string, ...any)        {}
func (nop) Info(context.Context, string, ...any)         {}
func (nop) Warn(context.Context, string, ...any)         {}
func (nop) Error(context.Context, error, string, ...any) {}
func (nop) Sync() error                                  { return nil }

// Nop discards everything. It is what FromContext hands out when no logger
// was attached.
func Nop() Logger { return nop{} }
