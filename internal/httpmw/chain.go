package httpmw

import (
	"net/http"
)

// Chain wraps h so the first middleware in mws is the outermost.
// nil entries are skipped, which lets callers pass optional middleware inline.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
