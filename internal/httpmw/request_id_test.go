package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var ctxID, fwdID string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
		fwdID = r.Header.Get("X-Request-Id")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(ctxID) != 32 {
		t.Fatalf("generated id %q, want 32 hex chars", ctxID)
	}
	if got := rr.Header().Get("X-Request-Id"); got != ctxID {
		t.Fatalf("response header %q != context id %q", got, ctxID)
	}
	if fwdID != ctxID {
		t.Fatalf("forwarded header %q != context id %q", fwdID, ctxID)
	}
}

func TestRequestID_PropagatesInbound(t *testing.T) {
	var ctxID string
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if ctxID != "abc-123" {
		t.Fatalf("ctx id = %q, want abc-123", ctxID)
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != "abc-123" {
		t.Fatalf("response id = %q, want abc-123", got)
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	var ctxID string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(ctxID) != 32 {
		t.Fatalf("oversized id was not replaced: %q", ctxID)
	}
}
