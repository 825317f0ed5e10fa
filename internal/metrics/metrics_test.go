package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/finflow-gateway/internal/version"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// labelled returns the metric in family f whose label name=value.
func labelled(f *dto.MetricFamily, name, value string) *dto.Metric {
	if f == nil {
		return nil
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return m
			}
		}
	}
	return nil
}

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestNew_RegistryPopulated(t *testing.T) {
	body := scrape(t, New())

	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"upstream_errors_total",
		"profiling_active",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncUpstreamError()

	if v := gatherMetric(t, b.reg, "upstream_errors_total").GetMetric()[0].GetCounter().GetValue(); v != 0 {
		t.Fatalf("second registry saw %f increments", v)
	}
}

func TestRateLimitCounters_PerPolicy(t *testing.T) {
	m := New()
	m.IncRateLimitAdmitted("general")
	m.IncRateLimitAdmitted("general")
	m.IncRateLimitAdmitted("auth")
	m.IncRateLimitDenied("auth")
	m.IncRateLimitStoreError("api")

	admitted := gatherMetric(t, m.reg, "ratelimit_admitted_total")
	if got := labelled(admitted, "policy", "general").GetCounter().GetValue(); got != 2 {
		t.Fatalf("admitted{general} = %f, want 2", got)
	}
	if got := labelled(admitted, "policy", "auth").GetCounter().GetValue(); got != 1 {
		t.Fatalf("admitted{auth} = %f, want 1", got)
	}
	denied := gatherMetric(t, m.reg, "ratelimit_denied_total")
	if got := labelled(denied, "policy", "auth").GetCounter().GetValue(); got != 1 {
		t.Fatalf("denied{auth} = %f, want 1", got)
	}
	storeErrs := gatherMetric(t, m.reg, "ratelimit_store_errors_total")
	if got := labelled(storeErrs, "policy", "api").GetCounter().GetValue(); got != 1 {
		t.Fatalf("store_errors{api} = %f, want 1", got)
	}
}

func TestSetPolicy(t *testing.T) {
	m := New()
	m.SetPolicy("auth", 5, 900)

	if got := labelled(gatherMetric(t, m.reg, "ratelimit_policy_max_requests"), "policy", "auth").GetGauge().GetValue(); got != 5 {
		t.Fatalf("max = %f, want 5", got)
	}
	if got := labelled(gatherMetric(t, m.reg, "ratelimit_policy_window_seconds"), "policy", "auth").GetGauge().GetValue(); got != 900 {
		t.Fatalf("window = %f, want 900", got)
	}
}

func TestRegisterTrackedWindows_ReadsAtScrape(t *testing.T) {
	m := New()
	n := 0.0
	if err := m.RegisterTrackedWindows("general", func() float64 { return n }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterTrackedWindows("auth", func() float64 { return 7 }); err != nil {
		t.Fatalf("register second policy: %v", err)
	}

	n = 3
	f := gatherMetric(t, m.reg, "ratelimit_tracked_windows")
	if got := labelled(f, "policy", "general").GetGauge().GetValue(); got != 3 {
		t.Fatalf("tracked{general} = %f, want 3", got)
	}
	if got := labelled(f, "policy", "auth").GetGauge().GetValue(); got != 7 {
		t.Fatalf("tracked{auth} = %f, want 7", got)
	}
}

func TestRegisterTrackedWindows_DuplicatePolicyFails(t *testing.T) {
	m := New()
	fn := func() float64 { return 0 }
	if err := m.RegisterTrackedWindows("api", fn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterTrackedWindows("api", fn); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestIncHttpPanic(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	if v := gatherMetric(t, m.reg, "http_panic_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Fatalf("http_panic_total = %f, want 1", v)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if v := gatherMetric(t, m.reg, "profiling_active").GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Fatalf("profiling_active = %f, want 1", v)
	}
	m.SetProfilingActive(false)
	if v := gatherMetric(t, m.reg, "profiling_active").GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Fatalf("profiling_active = %f, want 0", v)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("finflow-gateway", "gateway", version.Info{
		Version:   "1.2.3",
		Commit:    "abc123",
		GoVersion: "go1.24.11",
		VCSDirty:  &dirty,
	})

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatal("build_info not found")
	}
	labels := map[string]string{}
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	want := map[string]string{
		"app":        "finflow-gateway",
		"component":  "gateway",
		"version":    "1.2.3",
		"commit":     "abc123",
		"go_version": "go1.24.11",
		"vcs_dirty":  "true",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("label %s = %q, want %q", k, labels[k], v)
		}
	}
}

func TestSetBuildInfoFromVersion_NilVCSDirty(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("finflow-gateway", "gateway", version.Info{Version: "dev"})

	m0 := labelled(gatherMetric(t, m.reg, "build_info"), "vcs_dirty", "unknown")
	if m0 == nil {
		t.Fatal("vcs_dirty should be unknown when nil")
	}
}
