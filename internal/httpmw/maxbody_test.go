package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody_RejectsOversizedRead(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(strings.Repeat("a", 32)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("read err = %v, want *http.MaxBytesError", readErr)
	}
}

func TestMaxBody_AllowsWithinLimit(t *testing.T) {
	var body []byte
	h := MaxBody(64)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}

func TestMaxBody_ZeroDisables(t *testing.T) {
	var body []byte
	h := MaxBody(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("z", 100)))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(body) != 100 {
		t.Fatalf("len = %d, want 100", len(body))
	}
}
