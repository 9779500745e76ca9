package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "smaug"

// SetupTracing wires the global tracer provider to an OTLP gRPC collector at
// endpoint and returns the provider shutdown, which flushes buffered spans and
// must run before exit. version is stamped on every span as service.version so
// traces from a rolling deploy can be told apart.
func SetupTracing(ctx context.Context, endpoint, version string, sampleRate float64) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(sampleRate)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// sampler clamps rate to [0,1]. In-between rates are parent-based so a
// sampled inbound request keeps its downstream spans.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns a named tracer from the global provider. Before SetupTracing
// runs this yields the otel no-op tracer, so instrumented paths are safe to
// call in tests and in deployments with tracing disabled.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
