package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestNewNoop_StartAndEndDoesNotPanic(t *testing.T) {
	tr := NewNoop()
	ctx, span := tr.Start(context.Background(), "turn", map[string]string{"agent": "analyst"})
	span.AddEvent("routing_decided", map[string]string{"target": "analyst"})
	span.SetError(errors.New("boom"))
	span.End()
	if ctx == nil {
		t.Fatal("expected a non-nil context from Start")
	}
}

func TestSetup_DisabledReturnsNoop(t *testing.T) {
	tr, shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a non-nil tracer when disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestSetup_EnabledWithoutEndpointFallsBackToNoop(t *testing.T) {
	tr, shutdown, err := Setup(context.Background(), Config{Enabled: true, Endpoint: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a non-nil tracer")
	}
	_ = shutdown(context.Background())
}
