package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/finflow-gateway/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// rate limiting, labelled by policy name (a handful of fixed values)
	ratelimitAdmittedTotal    *prometheus.CounterVec
	ratelimitDeniedTotal      *prometheus.CounterVec
	ratelimitStoreErrorsTotal *prometheus.CounterVec
	ratelimitPolicyMax        *prometheus.GaugeVec
	ratelimitPolicyWindow     *prometheus.GaugeVec

	upstreamErrorsTotal prometheus.Counter
}

// New returns a fresh registry + standard collectors + gateway metrics.
// Labels are limited to method, chi route pattern, status and policy so
// client addresses never reach a label.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route, including upstream time",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP responses by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitAdmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_admitted_total",
			Help: "Requests admitted by a rate limit policy",
		}, []string{"policy"}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Requests rejected with 429 by a rate limit policy",
		}, []string{"policy"}),
		ratelimitStoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limit store failures, each one let the request through",
		}, []string{"policy"}),
		ratelimitPolicyMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_policy_max_requests",
			Help: "Configured request ceiling per window",
		}, []string{"policy"}),
		ratelimitPolicyWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_policy_window_seconds",
			Help: "Configured window length",
		}, []string{"policy"}),
		upstreamErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Proxied requests that failed to reach the upstream backend",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitAdmittedTotal,
		m.ratelimitDeniedTotal,
		m.ratelimitStoreErrorsTotal,
		m.ratelimitPolicyMax,
		m.ratelimitPolicyWindow,
		m.upstreamErrorsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncRateLimitAdmitted(policy string) {
	m.ratelimitAdmittedTotal.WithLabelValues(policy).Inc()
}

func (m *ServerMetrics) IncRateLimitDenied(policy string) {
	m.ratelimitDeniedTotal.WithLabelValues(policy).Inc()
}

func (m *ServerMetrics) IncRateLimitStoreError(policy string) {
	m.ratelimitStoreErrorsTotal.WithLabelValues(policy).Inc()
}

// SetPolicy publishes the effective limits of a policy after overrides.
func (m *ServerMetrics) SetPolicy(policy string, maxRequests int, windowSeconds float64) {
	m.ratelimitPolicyMax.WithLabelValues(policy).Set(float64(maxRequests))
	m.ratelimitPolicyWindow.WithLabelValues(policy).Set(windowSeconds)
}

// RegisterTrackedWindows exposes ratelimit_tracked_windows{policy} computed
// at scrape time by fn. Only meaningful for the in-process store.
func (m *ServerMetrics) RegisterTrackedWindows(policy string, fn func() float64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "ratelimit_tracked_windows",
		Help:        "Client windows currently held in memory",
		ConstLabels: prometheus.Labels{"policy": policy},
	}, fn))
}

func (m *ServerMetrics) IncUpstreamError() {
	m.upstreamErrorsTotal.Inc()
}
