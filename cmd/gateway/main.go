package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/finflow-gateway/internal/cfg"
	"github.com/keithlinneman/finflow-gateway/internal/gateway"
	"github.com/keithlinneman/finflow-gateway/internal/health"
	"github.com/keithlinneman/finflow-gateway/internal/httpmw"
	"github.com/keithlinneman/finflow-gateway/internal/httpserver"
	"github.com/keithlinneman/finflow-gateway/internal/log"
	"github.com/keithlinneman/finflow-gateway/internal/metrics"
	"github.com/keithlinneman/finflow-gateway/internal/opshttp"
	"github.com/keithlinneman/finflow-gateway/internal/otelx"
	"github.com/keithlinneman/finflow-gateway/internal/prof"
	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
	v "github.com/keithlinneman/finflow-gateway/internal/version"
)

const component = "gateway"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading FINFLOW_GW_* variables (missing file is ignored)")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// .env first so FillFromEnv sees its values, already-set variables win
	if _, err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"upstream_url", conf.UpstreamURL,
		"trusted_hops", conf.TrustedHops,
		"store", conf.StoreType,
		"policy_ssm_param", conf.PolicySSMParam,
		"max_body_bytes", conf.MaxBodyBytes,
		"enable_cors", conf.EnableCORS,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	policies, err := loadPolicies(ctx, conf, L)
	if err != nil {
		L.Error(ctx, err, "failed to load rate limit policies")
		os.Exit(1)
	}

	st, err := newStore(ctx, conf, policies, m)
	if err != nil {
		L.Error(ctx, err, "failed to create rate limit store", "store", conf.StoreType)
		os.Exit(1)
	}

	limiters, err := newLimiters(ctx, policies, st, m, L)
	if err != nil {
		L.Error(ctx, err, "failed to create rate limiters")
		os.Exit(1)
	}
	for name, p := range policies {
		L.Info(ctx, "rate limit policy", "policy", name, "window", p.Window.String(), "max", p.Max)
	}

	upstream, _ := url.Parse(conf.UpstreamURL) // checked by Validate
	gw, err := gateway.New(gateway.Options{
		Upstream:        upstream,
		Limiters:        limiters,
		OnUpstreamError: m.IncUpstreamError,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create gateway")
		os.Exit(1)
	}

	var gate health.ShutdownGate

	// ready while not draining and the store answers
	readiness := health.All(
		gate.Probe(),
		health.Ping("ratelimit store", st, 2*time.Second),
	)

	var cors *httpmw.CORSOptions
	if conf.EnableCORS {
		cors = &httpmw.CORSOptions{
			AllowOrigin: conf.CORSOrigin,
			ExposeHeaders: []string{
				ratelimit.HeaderLimit,
				ratelimit.HeaderRemaining,
				ratelimit.HeaderReset,
				ratelimit.HeaderRetry,
				"X-Request-Id",
			},
		}
	}

	httpStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Routes:       func(r chi.Router) { gw.Mount(r) },
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: conf.MaxBodyBytes,
		CORS:         cors,
		WriteTimeout: conf.WriteTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start gateway http listener")
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	// ops listener rejects public peers itself, in case the security group is ever misconfigured
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain", conf.DrainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "gateway http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	if err := st.Close(); err != nil {
		L.Error(context.Background(), err, "rate limit store close")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// notifySystemd sends READY=1 when started under systemd with Type=notify.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
