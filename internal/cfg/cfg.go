// Package cfg holds the gateway's settings. Every setting is a flag with its
// default inline; FillFromEnv and LoadDotEnv let the same names come from the
// environment.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/finflow-gateway/internal/log"
	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
)

// EnvPrefix is prepended to every flag name when read from the environment.
const EnvPrefix = "FINFLOW_GW_"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	UpstreamURL  string
	TrustedHops  int
	MaxBodyBytes int64
	WriteTimeout time.Duration
	DrainPeriod  time.Duration
	EnableCORS   bool
	CORSOrigin   string

	StoreType      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	SweepInterval  time.Duration

	PolicySSMParam string
	GeneralWindow  time.Duration
	GeneralMax     int
	AuthWindow     time.Duration
	AuthMax        int
	APIWindow      time.Duration
	APIMax         int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.UpstreamURL, "upstream-url", "http://127.0.0.1:5000", "FinFlow backend base url")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the gateway whose X-Forwarded-For is trusted")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<20, "request body limit in bytes (0 disables)")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", 60*time.Second, "public listener write timeout, covers the upstream round trip")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "time between failing readiness and closing listeners on shutdown")
	fs.BoolVar(&c.EnableCORS, "enable-cors", true, "answer CORS preflights and expose rate limit headers to browsers")
	fs.StringVar(&c.CORSOrigin, "cors-origin", "*", "Access-Control-Allow-Origin value")

	fs.StringVar(&c.StoreType, "store", StoreMemory, "rate limit store: memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "127.0.0.1:6379", "redis host:port when -store=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")
	fs.StringVar(&c.RedisKeyPrefix, "redis-key-prefix", "finflow:ratelimit:", "prefix for rate limit keys")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", time.Minute, "background sweep of expired windows in the memory store (0 disables)")

	general, auth, api := ratelimit.General(), ratelimit.Auth(), ratelimit.API()
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "", "ssm parameter holding JSON policy overrides (empty disables)")
	fs.DurationVar(&c.GeneralWindow, "general-window", general.Window, "general policy window")
	fs.IntVar(&c.GeneralMax, "general-max", general.Max, "general policy requests per window")
	fs.DurationVar(&c.AuthWindow, "auth-window", auth.Window, "auth policy window")
	fs.IntVar(&c.AuthMax, "auth-max", auth.Max, "auth policy requests per window")
	fs.DurationVar(&c.APIWindow, "api-window", api.Window, "api policy window")
	fs.IntVar(&c.APIMax, "api-max", api.Max, "api policy requests per window")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Policies builds the three named policies from the flag values. Messages and
// the health check bypass come from the built-in policies.
func (c App) Policies() map[string]ratelimit.Policy {
	p := ratelimit.Defaults()

	general := p[ratelimit.PolicyGeneral]
	general.Window, general.Max = c.GeneralWindow, c.GeneralMax
	p[ratelimit.PolicyGeneral] = general

	auth := p[ratelimit.PolicyAuth]
	auth.Window, auth.Max = c.AuthWindow, c.AuthMax
	p[ratelimit.PolicyAuth] = auth

	api := p[ratelimit.PolicyAPI]
	api.Window, api.Max = c.APIWindow, c.APIMax
	p[ratelimit.PolicyAPI] = api

	return p
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Upstream
	if u, err := url.Parse(c.UpstreamURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an http(s) URL (got %q)", c.UpstreamURL))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be >= 0 (got %d)", c.MaxBodyBytes))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WRITE_TIMEOUT must be positive (got %s)", c.WriteTimeout))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	// Store
	switch c.StoreType {
	case StoreMemory:
		if c.SweepInterval < 0 {
			errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be >= 0 (got %s)", c.SweepInterval))
		}
	case StoreRedis:
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0 (got %d)", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be %s or %s)", c.StoreType, StoreMemory, StoreRedis))
	}

	// Policies, checked the same way the limiter checks them
	for _, p := range c.Policies() {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
