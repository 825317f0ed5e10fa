package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true")
	}
	if c.EnablePyroscope {
		t.Error("EnablePyroscope: want false")
	}
	if c.EnableTracing {
		t.Error("EnableTracing: want false")
	}
	if c.UpstreamURL != "http://127.0.0.1:5000" {
		t.Errorf("UpstreamURL: want %q, got %q", "http://127.0.0.1:5000", c.UpstreamURL)
	}
	if c.StoreType != StoreMemory {
		t.Errorf("StoreType: want %q, got %q", StoreMemory, c.StoreType)
	}
	if c.MaxBodyBytes != 10<<20 {
		t.Errorf("MaxBodyBytes: want %d, got %d", 10<<20, c.MaxBodyBytes)
	}
	if c.TrustedHops != 0 {
		t.Errorf("TrustedHops: want 0, got %d", c.TrustedHops)
	}
	if c.GeneralWindow != 15*time.Minute || c.GeneralMax != 100 {
		t.Errorf("general: want 15m/100, got %s/%d", c.GeneralWindow, c.GeneralMax)
	}
	if c.AuthWindow != 15*time.Minute || c.AuthMax != 5 {
		t.Errorf("auth: want 15m/5, got %s/%d", c.AuthWindow, c.AuthMax)
	}
	if c.APIWindow != time.Minute || c.APIMax != 20 {
		t.Errorf("api: want 1m/20, got %s/%d", c.APIWindow, c.APIMax)
	}
	if !c.IncludeErrorLinks {
		t.Error("IncludeErrorLinks: want true")
	}
	if c.StacktraceLevel != "error" {
		t.Errorf("StacktraceLevel: want %q, got %q", "error", c.StacktraceLevel)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-http-port=9090",
		"-admin-port=9100",
		"-enable-pprof=false",
		"-enable-pyroscope=true",
		"-enable-tracing=true",
		"-trace-sample=0.5",
		"-stacktrace-level=warn",
		"-include-error-links=false",
		"-max-error-links=16",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-otlp-endpoint=otel:4317",
		"-upstream-url=https://backend.internal:5000",
		"-store=redis",
		"-redis-addr=cache:6380",
		"-auth-max=3",
		"-api-window=30s",
	})

	if c.LogJSON != false {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.EnablePprof != false {
		t.Error("EnablePprof: want false")
	}
	if c.EnablePyroscope != true {
		t.Error("EnablePyroscope: want true")
	}
	if c.EnableTracing != true {
		t.Error("EnableTracing: want true")
	}
	if c.TraceSample != 0.5 {
		t.Errorf("TraceSample: want 0.5, got %f", c.TraceSample)
	}
	if c.StacktraceLevel != "warn" {
		t.Errorf("StacktraceLevel: want %q, got %q", "warn", c.StacktraceLevel)
	}
	if c.IncludeErrorLinks != false {
		t.Error("IncludeErrorLinks: want false")
	}
	if c.MaxErrorLinks != 16 {
		t.Errorf("MaxErrorLinks: want 16, got %d", c.MaxErrorLinks)
	}
	if c.PyroServer != "https://pyro:4040" {
		t.Errorf("PyroServer: want %q, got %q", "https://pyro:4040", c.PyroServer)
	}
	if c.PyroTenantID != "test-tenant" {
		t.Errorf("PyroTenantID: want %q, got %q", "test-tenant", c.PyroTenantID)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
	if c.UpstreamURL != "https://backend.internal:5000" {
		t.Errorf("UpstreamURL: want %q, got %q", "https://backend.internal:5000", c.UpstreamURL)
	}
	if c.StoreType != StoreRedis {
		t.Errorf("StoreType: want %q, got %q", StoreRedis, c.StoreType)
	}
	if c.RedisAddr != "cache:6380" {
		t.Errorf("RedisAddr: want %q, got %q", "cache:6380", c.RedisAddr)
	}
	if c.AuthMax != 3 {
		t.Errorf("AuthMax: want 3, got %d", c.AuthMax)
	}
	if c.APIWindow != 30*time.Second {
		t.Errorf("APIWindow: want 30s, got %s", c.APIWindow)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"ADMIN_PORT", "9100")
	t.Setenv(pfx+"ENABLE_PPROF", "false")
	t.Setenv(pfx+"ENABLE_PYROSCOPE", "true")
	t.Setenv(pfx+"ENABLE_TRACING", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"STACKTRACE_LEVEL", "warn")
	t.Setenv(pfx+"INCLUDE_ERROR_LINKS", "false")
	t.Setenv(pfx+"MAX_ERROR_LINKS", "12")
	t.Setenv(pfx+"PYRO_SERVER", "https://pyro:4040")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")
	t.Setenv(pfx+"TRUSTED_HOPS", "2")
	t.Setenv(pfx+"SWEEP_INTERVAL", "30s")
	t.Setenv(pfx+"POLICY_SSM_PARAM", "/finflow/gateway/policies")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON != false {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.EnablePprof != false {
		t.Error("EnablePprof: want false from env")
	}
	if c.EnablePyroscope != true {
		t.Error("EnablePyroscope: want true from env")
	}
	if c.EnableTracing != true {
		t.Error("EnableTracing: want true from env")
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
	if c.StacktraceLevel != "warn" {
		t.Errorf("StacktraceLevel: want %q, got %q", "warn", c.StacktraceLevel)
	}
	if c.IncludeErrorLinks != false {
		t.Error("IncludeErrorLinks: want false from env")
	}
	if c.MaxErrorLinks != 12 {
		t.Errorf("MaxErrorLinks: want 12, got %d", c.MaxErrorLinks)
	}
	if c.PyroServer != "https://pyro:4040" {
		t.Errorf("PyroServer: want %q, got %q", "https://pyro:4040", c.PyroServer)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
	if c.TrustedHops != 2 {
		t.Errorf("TrustedHops: want 2, got %d", c.TrustedHops)
	}
	if c.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval: want 30s, got %s", c.SweepInterval)
	}
	if c.PolicySSMParam != "/finflow/gateway/policies" {
		t.Errorf("PolicySSMParam: want %q, got %q", "/finflow/gateway/policies", c.PolicySSMParam)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.EnablePprof != true {
		t.Error("EnablePprof: want true (cli)")
	}

	// Should have logged override messages for all three
	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	// Should keep default, not crash
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080 (default), got %d", c.HTTPPort)
	}
	// Should have logged the error
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
		"-upstream-url=ftp://backend",
		"-trusted-hops=-1",
		"-store=etcd",
		"-auth-max=0",
		"-api-window=0s",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
	wantErrContains(t, err, "UPSTREAM_URL must be an http(s) URL")
	wantErrContains(t, err, "TRUSTED_HOPS")
	wantErrContains(t, err, `invalid STORE "etcd"`)
	wantErrContains(t, err, `policy "auth": max must be positive`)
	wantErrContains(t, err, `policy "api": window must be positive`)
}

func TestValidate_SamePorts(t *testing.T) {
	c := newTestConfig(t, []string{"-http-port=9000", "-admin-port=9000"})
	wantErrContains(t, Validate(c), "must differ")
}

func TestValidate_RedisAddr(t *testing.T) {
	c := newTestConfig(t, []string{"-store=redis", "-redis-addr=cache"})
	wantErrContains(t, Validate(c), "REDIS_ADDR must be host:port")

	c = newTestConfig(t, []string{"-store=redis", "-redis-addr=cache:6379"})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestPolicies(t *testing.T) {
	c := newTestConfig(t, []string{"-auth-window=10m", "-auth-max=3", "-general-max=500"})
	p := c.Policies()

	if len(p) != 3 {
		t.Fatalf("want 3 policies, got %d", len(p))
	}
	auth := p[ratelimit.PolicyAuth]
	if auth.Window != 10*time.Minute || auth.Max != 3 {
		t.Errorf("auth: want 10m/3, got %s/%d", auth.Window, auth.Max)
	}
	if auth.Message != ratelimit.AuthMessage {
		t.Errorf("auth message: want %q, got %q", ratelimit.AuthMessage, auth.Message)
	}
	if p[ratelimit.PolicyGeneral].Max != 500 {
		t.Errorf("general max: want 500, got %d", p[ratelimit.PolicyGeneral].Max)
	}
	if p[ratelimit.PolicyGeneral].Skip == nil {
		t.Error("general policy lost its health check bypass")
	}
	if api := p[ratelimit.PolicyAPI]; api.Window != time.Minute || api.Max != 20 {
		t.Errorf("api: want 1m/20, got %s/%d", api.Window, api.Max)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FINFLOW_GW_TEST_DOTENV_A=from-file\nFINFLOW_GW_TEST_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FINFLOW_GW_TEST_DOTENV_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("FINFLOW_GW_TEST_DOTENV_A") })

	loaded, err := LoadDotEnv(path)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if !loaded {
		t.Fatal("LoadDotEnv: want loaded=true")
	}
	if got := os.Getenv("FINFLOW_GW_TEST_DOTENV_A"); got != "from-file" {
		t.Errorf("A: want %q, got %q", "from-file", got)
	}
	// already-set variables are not overridden
	if got := os.Getenv("FINFLOW_GW_TEST_DOTENV_B"); got != "from-env" {
		t.Errorf("B: want %q, got %q", "from-env", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if loaded {
		t.Error("want loaded=false for a missing file")
	}

	loaded, err = LoadDotEnv("")
	if err != nil || loaded {
		t.Errorf("empty path: want (false, nil), got (%v, %v)", loaded, err)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
