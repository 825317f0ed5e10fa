package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/finflow-gateway/internal/httpmw"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// Response headers surfaced on every checked request.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Policy    string
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	// Reset is when the current window ends.
	Reset time.Time
	// RetryAfter is the whole number of seconds until Reset, set only on rejection.
	RetryAfter int
}

// Limiter applies one Policy against a Store.
type Limiter struct {
	policy Policy
	store  Store
	now    func() time.Time

	// OnDenied is called on every rejected request, used for prometheus counters
	OnDenied func(policy, key string)

	// OnFirstDenied is called once per client window, on the first rejection in it
	OnFirstDenied func(policy, key string)

	// OnAdmitted is called on every admitted request
	OnAdmitted func(policy string)

	// OnStoreError is called when the store fails and the request is let through
	OnStoreError func(ctx context.Context, policy string, err error)
}

type Option func(*Limiter)

// WithClock replaces time.Now, used by tests to advance time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOnDenied sets a callback for every rejected request.
func WithOnDenied(fn func(policy, key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// WithOnFirstDenied sets a callback for the first rejection of each client
// window. Kept separate from OnDenied so we log once but count every denial.
func WithOnFirstDenied(fn func(policy, key string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnAdmitted sets a callback for every admitted request.
func WithOnAdmitted(fn func(policy string)) Option {
	return func(l *Limiter) {
		l.OnAdmitted = fn
	}
}

// WithOnStoreError sets a callback for store failures.
func WithOnStoreError(fn func(ctx context.Context, policy string, err error)) Option {
	return func(l *Limiter) {
		l.OnStoreError = fn
	}
}

// New validates the policy and returns a Limiter backed by store.
// A misconfigured policy is a programming error and fails here, never at request time.
func New(policy Policy, store Store, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "invalid rate limit policy")
	}
	if store == nil {
		return nil, xerrors.Newf("policy %q: store is required", policy.Name)
	}
	if policy.Message == "" {
		policy.Message = DefaultMessage
	}
	l := &Limiter{
		policy: policy,
		store:  store,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Policy returns the policy this limiter enforces.
func (l *Limiter) Policy() Policy { return l.policy }

// Admit counts one request from key and decides whether it may proceed.
// The (Max+1)-th request of a window is the first one rejected.
// A store error is returned with a permissive decision so callers can fail open.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	p := l.policy

	w, err := l.store.Hit(ctx, p.Name, key, now, p.Window)
	if err != nil {
		return Decision{
			Policy:    p.Name,
			Allowed:   true,
			Limit:     p.Max,
			Remaining: p.Max,
			Reset:     now.Add(p.Window),
		}, xerrors.Wrapf(err, "rate limit store hit (policy=%s)", p.Name)
	}

	reset := w.Start.Add(p.Window)
	d := Decision{
		Policy:    p.Name,
		Count:     w.Count,
		Limit:     p.Max,
		Remaining: max(0, p.Max-w.Count),
		Reset:     reset,
	}

	if w.Count > p.Max {
		d.RetryAfter = ceilSeconds(reset.Sub(now))
		// counts grow by exactly one per hit, so Max+1 marks the first denial of this window
		if w.Count == p.Max+1 && l.OnFirstDenied != nil {
			l.OnFirstDenied(p.Name, key)
		}
		if l.OnDenied != nil {
			l.OnDenied(p.Name, key)
		}
		return d, nil
	}

	d.Allowed = true
	if l.OnAdmitted != nil {
		l.OnAdmitted(p.Name)
	}
	return d, nil
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// rejection is the body of a 429 response.
type rejection struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware guards next with this limiter. Requests are keyed by the client
// IP resolved by httpmw.ClientIP, which must run earlier in the chain.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.policy.Skip != nil && l.policy.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := httpmw.ClientIPFromContext(ctx)

		d, err := l.Admit(ctx, key)
		span := trace.SpanFromContext(ctx)
		if err != nil {
			// fail open, a broken store must not take the api down with it
			span.RecordError(err, trace.WithAttributes(attribute.String("ratelimit.policy", l.policy.Name)))
			if l.OnStoreError != nil {
				l.OnStoreError(ctx, l.policy.Name, err)
			}
			next.ServeHTTP(w, r)
			return
		}

		SetHeaders(w.Header(), d)

		if !d.Allowed {
			span.AddEvent("ratelimit.denied", trace.WithAttributes(
				attribute.String("ratelimit.policy", d.Policy),
				attribute.Int("ratelimit.count", d.Count),
				attribute.Int("ratelimit.limit", d.Limit),
				attribute.Int("ratelimit.retry_after", d.RetryAfter),
			))
			WriteRejection(w, l.policy.Message, d.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetHeaders writes the X-RateLimit-* headers for d, replacing any set by an
// outer limiter so the innermost policy is the one reported.
func SetHeaders(h http.Header, d Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, d.Reset.UTC().Format(http.TimeFormat))
}

// WriteRejection writes the structured 429 refusal.
func WriteRejection(w http.ResponseWriter, message string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(HeaderRetry, strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejection{
		Success:    false,
		Error:      message,
		RetryAfter: retryAfter,
	})
}
