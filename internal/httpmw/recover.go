package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/finflow-gateway/internal/log"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// Recover turns a handler panic into a 500 and logs it with a stack.
// onPanic may be nil; it is used to count panics.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// ReverseProxy aborts a broken stream this way, let net/http handle it
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}
				err := xerrors.New(fmt.Sprintf("panic: %v", rec))
				L.Error(r.Context(), err, "httpserver panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
