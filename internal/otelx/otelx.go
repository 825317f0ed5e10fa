// Package otelx installs the global OpenTelemetry tracer provider and
// propagator. With tracing disabled the provider records nothing, but
// W3C trace context from clients is still carried through to the backend.
package otelx

import (
	"context"
	"crypto/tls"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// InstrumentationPrefix names every tracer created through Tracer.
const InstrumentationPrefix = "finflow-gateway/"

type Options struct {
	Enabled bool
	// Endpoint is the collector's gRPC host:port.
	Endpoint string
	Insecure bool
	// Sample is the ratio of new root traces kept. Parent decisions win.
	Sample    float64
	Service   string
	Component string
	Version   string

	// DialTimeout bounds exporter setup, default 3s.
	DialTimeout time.Duration
}

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the provider and propagator globally.
func Init(ctx context.Context, o Options) (Shutdown, error) {
	otel.SetTextMapPropagator(Propagator())

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())))
		return noopShutdown, nil
	}
	if o.Endpoint == "" {
		return noopShutdown, xerrors.New("otlp endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return noopShutdown, xerrors.Wrapf(err, "create otlp exporter for %s", o.Endpoint)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(Sampler(o.Sample)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Propagator carries traceparent, tracestate and baggage.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Sampler keeps ratio of new root traces and follows the parent otherwise.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns the global tracer for one gateway component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationPrefix + component)
}

func newResource(ctx context.Context, o Options) *resource.Resource {
	name := o.Service
	if o.Component != "" {
		name += "." + o.Component
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if err != nil && res == nil {
		// partial detector failures still return a usable resource
		return resource.Default()
	}
	return res
}
