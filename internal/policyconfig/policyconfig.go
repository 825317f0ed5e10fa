// Package policyconfig loads rate limit policy overrides from a JSON document,
// normally kept in an SSM parameter so limits can be tuned without a deploy.
//
//	{"auth":{"window":"10m","max":3,"message":"..."},"api":{"max":50}}
//
// Fields that are omitted keep the value of the built-in policy.
package policyconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// Override changes some fields of one named policy.
type Override struct {
	Window  *Duration `json:"window,omitempty"`
	Max     *int      `json:"max,omitempty"`
	Message *string   `json:"message,omitempty"`
}

// Overrides maps policy name to its override.
type Overrides map[string]Override

// Duration accepts a Go duration string ("15m") or an integer number of
// milliseconds, which is how the window was historically configured.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("window must be a duration string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Parse decodes and validates an overrides document. Unknown policy names
// and unknown fields are rejected so a typo cannot silently do nothing.
func Parse(data []byte, known []string) (Overrides, error) {
	var ov Overrides
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ov); err != nil {
		return nil, xerrors.Wrap(err, "decode policy overrides")
	}

	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}

	var errs []error
	for _, name := range ov.names() {
		o := ov[name]
		if !allowed[name] {
			errs = append(errs, fmt.Errorf("unknown policy %q (known: %s)", name, strings.Join(known, ", ")))
			continue
		}
		if o.Window != nil && time.Duration(*o.Window) <= 0 {
			errs = append(errs, fmt.Errorf("policy %q: window must be positive", name))
		}
		if o.Max != nil && *o.Max <= 0 {
			errs = append(errs, fmt.Errorf("policy %q: max must be positive", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.WithStack(err)
	}
	return ov, nil
}

func (ov Overrides) names() []string {
	names := make([]string, 0, len(ov))
	for n := range ov {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of policies with the overrides merged in. The input
// map is not modified.
func (ov Overrides) Apply(policies map[string]ratelimit.Policy) (map[string]ratelimit.Policy, error) {
	out := make(map[string]ratelimit.Policy, len(policies))
	for k, p := range policies {
		out[k] = p
	}

	var errs []error
	for _, name := range ov.names() {
		o := ov[name]
		p, ok := out[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown policy %q", name))
			continue
		}
		if o.Window != nil {
			p.Window = time.Duration(*o.Window)
		}
		if o.Max != nil {
			p.Max = *o.Max
		}
		if o.Message != nil {
			p.Message = *o.Message
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.WithStack(err)
	}
	return out, nil
}
