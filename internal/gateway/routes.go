package gateway

import (
	"net/http"

	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
)

// Route binds a backend endpoint to the policy that guards it on top of the
// general policy.
type Route struct {
	Methods []string
	Pattern string
	Policy  string
}

// Routes mirrors the backend routers. Anything not listed here is proxied
// under the general policy alone.
var Routes = []Route{
	{Methods: []string{http.MethodPost}, Pattern: "/api/auth/register", Policy: ratelimit.PolicyAuth},
	{Methods: []string{http.MethodPost}, Pattern: "/api/auth/login", Policy: ratelimit.PolicyAuth},
	{Methods: []string{http.MethodPost}, Pattern: "/api/auth/oauth", Policy: ratelimit.PolicyAuth},

	{Methods: []string{http.MethodGet, http.MethodPost}, Pattern: "/api/chat/sessions", Policy: ratelimit.PolicyAPI},
	{Methods: []string{http.MethodPost}, Pattern: "/api/chat/sessions/{sessionId}/messages", Policy: ratelimit.PolicyAPI},

	{Methods: []string{http.MethodGet, http.MethodPost}, Pattern: "/api/documents", Policy: ratelimit.PolicyAPI},
}

// BypassPaths are proxied without any limiter so health checks never use up
// a client's budget.
var BypassPaths = []string{"/health", "/"}
