// Package tracing wires the orchestrator's span instrumentation: a no-op
// provider by default, or an OTLP/HTTP exporter when configured.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing exports anywhere, and where.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Tracer is the narrow surface the orchestrator needs: start a span, end it.
// Call sites use the returned context for nested spans and call End when the
// traced operation completes.
type Tracer interface {
	Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, Span)
}

// Span is the handle returned by Start.
type Span interface {
	End()
	SetError(err error)
	AddEvent(name string, attrs map[string]string)
}

type otelTracer struct {
	tracer trace.Tracer
}

func newOtelTracer(t trace.Tracer) Tracer {
	return &otelTracer{tracer: t}
}

func (o *otelTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, Span) {
	opts := make([]trace.SpanStartOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(toKeyValues(attrs)...))
	}
	ctx, span := o.tracer.Start(ctx, spanName, opts...)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) AddEvent(name string, attrs map[string]string) {
	if len(attrs) == 0 {
		s.span.AddEvent(name)
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(toKeyValues(attrs)...))
}

func toKeyValues(attrs map[string]string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}
