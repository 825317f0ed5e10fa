package log

import "context"

type ctxKey struct{}

// WithContext attaches l to ctx. Request middleware uses it to hand each
// handler a logger already carrying request_id and client_ip.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the attached logger, or Nop.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return Nop()
	}
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
