package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/finflow-gateway/internal/health"
	"github.com/keithlinneman/finflow-gateway/internal/httpmw"
	"github.com/keithlinneman/finflow-gateway/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called on every recovered panic, e.g. to bump http_panic_total
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// Routes mounts the application routes (the gateway route table).
	Routes func(chi.Router)

	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies. 0 disables the cap.
	MaxBodyBytes int64

	// CORS is applied when set. Preflights are answered before routing.
	CORS *httpmw.CORSOptions

	// WriteTimeout overrides DefaultWriteTimeout. Chat replies from the
	// backend can take longer than a plain API call.
	WriteTimeout time.Duration
}
