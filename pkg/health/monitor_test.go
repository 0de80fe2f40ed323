package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMonitor_TickRecordsResults(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, 5*time.Millisecond, nil)
	m.Register("orch-a", func(ctx context.Context) (bool, error) { return true, nil })
	m.Register("orch-b", func(ctx context.Context) (bool, error) { return false, nil })

	m.tick(context.Background())

	summary := m.Summary()
	if summary.Total != 2 {
		t.Fatalf("expected 2 results, got %d", summary.Total)
	}
	if summary.Healthy != 1 || summary.Unhealthy != 1 {
		t.Fatalf("expected 1 healthy, 1 unhealthy, got %d/%d", summary.Healthy, summary.Unhealthy)
	}
	if !m.IsHealthy("orch-a") {
		t.Error("expected orch-a to be healthy")
	}
	if m.IsHealthy("orch-b") {
		t.Error("expected orch-b to be unhealthy")
	}
}

func TestMonitor_ProbeErrorMarksUnhealthy(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, 5*time.Millisecond, nil)
	m.Register("flaky", func(ctx context.Context) (bool, error) { return true, errors.New("boom") })

	m.tick(context.Background())

	summary := m.Summary()
	r := summary.Results["flaky"]
	if r.Healthy {
		t.Error("expected probe error to mark orchestrator unhealthy")
	}
	if r.Err == nil {
		t.Error("expected error to be recorded on the result")
	}
}

func TestMonitor_StartStopCooperative(t *testing.T) {
	m := NewMonitor(5*time.Millisecond, 2*time.Millisecond, nil)
	m.Register("orch", func(ctx context.Context) (bool, error) { return true, nil })

	m.Start(context.Background())
	// The cron "@every" schedule runs at most once a second, whatever the
	// configured interval, so wait long enough for the first tick.
	time.Sleep(1500 * time.Millisecond)
	m.Stop()

	if !m.IsHealthy("orch") {
		t.Error("expected at least one tick to have run before stop")
	}

	// Stop must be idempotent.
	m.Stop()
}

func TestMonitor_UnregisterRemovesResult(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, 5*time.Millisecond, nil)
	m.Register("orch", func(ctx context.Context) (bool, error) { return true, nil })
	m.tick(context.Background())

	m.Unregister("orch")
	summary := m.Summary()
	if summary.Total != 0 {
		t.Fatalf("expected 0 results after unregister, got %d", summary.Total)
	}
}
