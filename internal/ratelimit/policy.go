package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Names of the policies the gateway ships with.
const (
	PolicyGeneral = "general"
	PolicyAuth    = "auth"
	PolicyAPI     = "api"
)

const (
	DefaultMessage = "Too many requests from this IP, please try again later"
	AuthMessage    = "Too many authentication attempts, please try again later"
)

// Policy is a named admission rule: at most Max requests per client within
// each Window. Skip, when set and true for a request, bypasses the policy
// entirely without touching any state.
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
	Skip    func(*http.Request) bool
}

// Validate reports every misconfigured field at once.
func (p Policy) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("policy name is required"))
	}
	if p.Window <= 0 {
		errs = append(errs, fmt.Errorf("policy %q: window must be positive (got %s)", p.Name, p.Window))
	}
	if p.Max <= 0 {
		errs = append(errs, fmt.Errorf("policy %q: max must be positive (got %d)", p.Name, p.Max))
	}
	return errors.Join(errs...)
}

// General is the blanket default applied to all proxied traffic.
func General() Policy {
	return Policy{
		Name:    PolicyGeneral,
		Window:  15 * time.Minute,
		Max:     100,
		Message: DefaultMessage,
		Skip:    SkipHealthChecks,
	}
}

// Auth guards credential endpoints against brute force.
func Auth() Policy {
	return Policy{
		Name:    PolicyAuth,
		Window:  15 * time.Minute,
		Max:     5,
		Message: AuthMessage,
		Skip:    SkipHealthChecks,
	}
}

// API is the tighter burst control for data-mutating endpoints.
func API() Policy {
	return Policy{
		Name:    PolicyAPI,
		Window:  time.Minute,
		Max:     20,
		Message: DefaultMessage,
		Skip:    SkipHealthChecks,
	}
}

// Defaults returns the shipped policies keyed by name. The map is fresh on
// every call so callers may modify it.
func Defaults() map[string]Policy {
	return map[string]Policy{
		PolicyGeneral: General(),
		PolicyAuth:    Auth(),
		PolicyAPI:     API(),
	}
}

// SkipHealthChecks bypasses liveness/readiness probes and CORS preflights so
// load balancers and browsers never burn a client's quota. A plain OPTIONS
// request is counted like any other.
func SkipHealthChecks(r *http.Request) bool {
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	switch r.URL.Path {
	case "/", "/health", "/-/healthy", "/-/ready":
		return true
	}
	return false
}
