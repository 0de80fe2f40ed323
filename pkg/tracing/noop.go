package tracing

import "go.opentelemetry.io/otel/trace/noop"

// NewNoop returns a Tracer backed by OpenTelemetry's no-op SpanProvider —
// the default when tracing is not configured.
func NewNoop() Tracer {
	return newOtelTracer(noop.NewTracerProvider().Tracer("agentpipe-orchestrator"))
}
