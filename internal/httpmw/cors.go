package httpmw

import (
	"net/http"
	"strings"
)

// CORSOptions configures the CORS middleware.
type CORSOptions struct {
	// AllowOrigin is returned as Access-Control-Allow-Origin. Defaults to "*".
	AllowOrigin string
	// ExposeHeaders lists response headers browser code may read.
	ExposeHeaders []string
}

var corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// CORS answers preflight requests directly and decorates every other
// response. Preflights never reach the router, so they are never counted by
// a rate limit policy.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	origin := opts.AllowOrigin
	if origin == "" {
		origin = "*"
	}
	expose := strings.Join(opts.ExposeHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}
			next.ServeHTTP(w, r)
		})
	}
}
