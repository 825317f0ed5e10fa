package httpmw

import "net/http"

// MaxBody limits request body size. Reads past the limit fail and the
// upstream proxy answers 413 Request Entity Too Large.
func MaxBody(bytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, bytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
