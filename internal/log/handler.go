package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// enrichHandler adds trace_id/span_id from the active span and, at or above
// stackLevel, a stack: the one captured by the logged error if it has one,
// the logging call site otherwise.
type enrichHandler struct {
	next       slog.Handler
	stackLevel slog.Level
}

func (h *enrichHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h *enrichHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if r.Level >= h.stackLevel {
		pcs := errStack(r)
		if len(pcs) == 0 {
			pcs = make([]uintptr, 64)
			// runtime.Callers, Handle
			pcs = pcs[:runtime.Callers(2, pcs)]
		}
		if s := formatStack(pcs); s != "" {
			r.AddAttrs(slog.String("stack", s))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *enrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &enrichHandler{next: h.next.WithAttrs(attrs), stackLevel: h.stackLevel}
}

func (h *enrichHandler) WithGroup(name string) slog.Handler {
	return &enrichHandler{next: h.next.WithGroup(name), stackLevel: h.stackLevel}
}

func errStack(r slog.Record) []uintptr {
	var pcs []uintptr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "err" {
			return true
		}
		if err, ok := a.Value.Any().(error); ok {
			pcs = xerrors.StackOf(err)
		}
		return false
	})
	return pcs
}

// internalFrame matches frames that belong to logging machinery rather than
// to the code that logged.
func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// formatStack renders one "func\n\tfile:line" entry per frame, dropping the
// leading logging frames and stopping at the runtime.
func formatStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !internalFrame(fr.Function) {
			started = true
		}
		if started && fr.Function != "" {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
