// Package gateway mounts the FinFlow route table on a chi router and proxies
// admitted requests to the backend.
//
// Every route runs the general policy first and its own policy second, so
// when both admit a request the inner policy's X-RateLimit-* headers are the
// ones the client sees. Health paths skip both.
package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/finflow-gateway/internal/httpmw"
	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

type Options struct {
	Upstream *url.URL

	// Limiters by policy name. General plus every policy named in Routes is required.
	Limiters map[string]*ratelimit.Limiter

	// Transport defaults to an otelhttp-instrumented clone of http.DefaultTransport.
	Transport http.RoundTripper

	// FlushInterval is passed to the reverse proxy. Streaming responses are
	// flushed immediately regardless.
	FlushInterval time.Duration

	// OnUpstreamError is called when the backend cannot be reached.
	OnUpstreamError func()
}

type Gateway struct {
	upstream        *url.URL
	limiters        map[string]*ratelimit.Limiter
	transport       http.RoundTripper
	flushInterval   time.Duration
	onUpstreamError func()
	proxy           *httputil.ReverseProxy
}

func New(opts Options) (*Gateway, error) {
	if opts.Upstream == nil || opts.Upstream.Scheme == "" || opts.Upstream.Host == "" {
		return nil, xerrors.New("gateway: absolute upstream url is required")
	}
	required := []string{ratelimit.PolicyGeneral}
	for _, rt := range Routes {
		required = append(required, rt.Policy)
	}
	for _, name := range required {
		if opts.Limiters[name] == nil {
			return nil, xerrors.Newf("gateway: limiter for policy %q is required", name)
		}
	}

	g := &Gateway{
		upstream:        opts.Upstream,
		limiters:        opts.Limiters,
		transport:       opts.Transport,
		flushInterval:   opts.FlushInterval,
		onUpstreamError: opts.OnUpstreamError,
	}
	if g.transport == nil {
		g.transport = otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())
	}
	g.proxy = g.newProxy(opts.Upstream)
	return g, nil
}

// Mount registers the route table on r.
func (g *Gateway) Mount(r chi.Router) {
	bypass := httpmw.Scope("proxy.bypass")(g.proxy)
	for _, p := range BypassPaths {
		r.Method(http.MethodGet, p, bypass)
		r.Method(http.MethodHead, p, bypass)
	}

	general := g.limiters[ratelimit.PolicyGeneral].Middleware

	r.Group(func(r chi.Router) {
		r.Use(general)

		for _, rt := range Routes {
			h := httpmw.Scope("proxy."+rt.Policy)(g.proxy)
			for _, m := range rt.Methods {
				r.With(g.limiters[rt.Policy].Middleware).Method(m, rt.Pattern, h)
			}
		}

		// everything else the backend serves
		r.Handle("/*", httpmw.Scope("proxy")(g.proxy))
	})

	// a known pattern hit with another method lands here rather than on /*
	fallback := general(httpmw.Scope("proxy")(g.proxy))
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)
}
