package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Setup configures a real OTLP/HTTP tracer when cfg.Enabled, otherwise
// returns a no-op Tracer. The returned shutdown func always flushes and
// closes whatever provider was installed; callers defer it unconditionally.
func Setup(ctx context.Context, cfg Config) (Tracer, func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return NewNoop(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceNameOrDefault(cfg.ServiceName))),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: new otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return newOtelTracer(tp.Tracer("agentpipe-orchestrator")), tp.Shutdown, nil
}

func serviceNameOrDefault(name string) string {
	if name == "" {
		return "agentpipe-orchestrator"
	}
	return name
}
