package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr

	includeErrorLinks bool
	maxErrorLinks     int
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler = slog.NewTextHandler(w, ho)
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	}

	base := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}

	return &slogLogger{
		h:                 &enrichHandler{next: h, stackLevel: opts.StacktraceLevel},
		attrs:             base,
		includeErrorLinks: opts.IncludeErrorLinks,
		maxErrorLinks:     opts.MaxErrorLinks,
	}, nil
}

// With returns a child logger. The parent's attrs are copied, never appended
// to in place, so siblings derived concurrently cannot see each other's fields.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.attrs = append(append(make([]slog.Attr, 0, len(s.attrs)+len(kv)/2), s.attrs...), kvAttrs(kv)...)
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, errorFields(err, s.includeErrorLinks, s.maxErrorLinks)...)
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

// emit builds the record by hand so the source points at the caller of
// Debug/Info/Warn/Error rather than at this package.
func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	var pc [1]uintptr
	// runtime.Callers, emit, Debug/Info/Warn/Error
	runtime.Callers(3, pc[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pc[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(kvAttrs(kv)...)
	_ = s.h.Handle(ctx, r)
}

// kvAttrs pairs up alternating keys and values. Non-string keys and a
// trailing key with no value are dropped.
func kvAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}
