package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/keithlinneman/finflow-gateway/internal/httpmw"
	"github.com/keithlinneman/finflow-gateway/internal/log"
)

const (
	msgUpstreamUnavailable = "upstream unavailable"
	msgBodyTooLarge        = "request body too large"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Success: false, Error: msg})
}

func (g *Gateway) newProxy(upstream *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// the peer is usually the load balancer, the backend wants the client
			if ip := httpmw.ClientIPFromContext(pr.In.Context()); ip != "" {
				pr.Out.Header.Set("X-Forwarded-For", ip)
			}
		},
		Transport:     g.transport,
		FlushInterval: g.flushInterval,
		ErrorHandler:  g.proxyError,
	}
}

func (g *Gateway) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		L.Warn(ctx, "request body over limit", "limit_bytes", tooLarge.Limit)
		writeJSONError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
		return
	}

	if errors.Is(err, context.Canceled) {
		// client went away, nothing useful to send and not an upstream fault
		L.Debug(ctx, "client canceled proxied request")
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	if g.onUpstreamError != nil {
		g.onUpstreamError()
	}
	L.Error(ctx, err, "upstream request failed", "upstream.host", g.upstream.Host)
	writeJSONError(w, http.StatusBadGateway, msgUpstreamUnavailable)
}
