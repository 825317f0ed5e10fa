package httpmw

import (
	"context"
	"net/http"
	"sync"

	"github.com/keithlinneman/finflow-gateway/internal/log"
)

// captureLogger records messages and the fields attached through With and
// at the call site.
type captureLogger struct {
	mu      *sync.Mutex
	fields  []any
	entries *[]logEntry
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields map[string]any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (c *captureLogger) With(kv ...any) log.Logger {
	fields := append(append([]any{}, c.fields...), kv...)
	return &captureLogger{mu: c.mu, fields: fields, entries: c.entries}
}

func (c *captureLogger) record(level string, err error, msg string, kv []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := map[string]any{}
	all := append(append([]any{}, c.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	*c.entries = append(*c.entries, logEntry{level: level, msg: msg, err: err, fields: m})
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) {
	c.record("debug", nil, msg, kv)
}
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any) {
	c.record("info", nil, msg, kv)
}
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any) {
	c.record("warn", nil, msg, kv)
}
func (c *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	c.record("error", err, msg, kv)
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) all() []logEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logEntry(nil), *c.entries...)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
