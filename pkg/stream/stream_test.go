package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

func drain(t *testing.T, out <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining stream")
			return nil
		}
	}
}

func TestRun_NormalizesTextChunks(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 2)
	upstream <- agent.UpstreamEvent{DeltaContent: "hello "}
	upstream <- agent.UpstreamEvent{DeltaContent: "world"}
	close(upstream)

	mux := NewMultiplexer("sess-1", "analyst", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	var texts []string
	for _, ev := range events {
		if ev.Kind == KindText {
			texts = append(texts, ev.Content)
		}
	}
	if len(texts) != 2 || texts[0] != "hello " || texts[1] != "world" {
		t.Fatalf("expected two ordered text chunks, got %v", texts)
	}
	if events[len(events)-1].Kind != KindFinal {
		t.Fatalf("expected terminal event to be final, got %s", events[len(events)-1].Kind)
	}
}

func TestRun_EmitsExactlyOneFinalOnCompletion(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 1)
	upstream <- agent.UpstreamEvent{DeltaContent: "x"}
	close(upstream)

	mux := NewMultiplexer("sess-1", "a", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	finals := 0
	for _, ev := range events {
		if ev.Kind == KindFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final event, got %d", finals)
	}
}

func TestRun_ErrorChunkEmitsErrorNotFinal(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 1)
	upstream <- agent.UpstreamEvent{Err: errors.New("boom")}

	mux := NewMultiplexer("sess-1", "a", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	if len(events) != 1 || events[0].Kind != KindError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	for _, ev := range events {
		if ev.Kind == KindFinal {
			t.Fatal("expected no final event after an error")
		}
	}
	if !mux.Errored() {
		t.Fatal("expected Errored() to report true")
	}
}

func TestRun_CancellationEmitsErrorAndCloses(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent)
	ctx, cancel := context.WithCancel(context.Background())

	mux := NewMultiplexer("sess-1", "a", DefaultConfig())
	out := mux.Run(ctx, upstream)
	cancel()

	events := drain(t, out, time.Second)
	if len(events) != 1 || events[0].Kind != KindError {
		t.Fatalf("expected a single error event on cancellation, got %+v", events)
	}
}

func TestRun_ToolCallAndResultPairByID(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 2)
	upstream <- agent.UpstreamEvent{ToolCalls: []agent.ToolCall{{ID: "t1", Name: "search", Args: map[string]interface{}{"q": "x"}}}}
	upstream <- agent.UpstreamEvent{ToolResults: []agent.ToolResult{{ToolCallID: "t1", Output: "found"}}}
	close(upstream)

	mux := NewMultiplexer("sess-1", "a", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	var callID, resultID string
	for _, ev := range events {
		if ev.Kind == KindToolCall {
			callID, _ = ev.Metadata["tool_call_id"].(string)
		}
		if ev.Kind == KindToolResult {
			resultID, _ = ev.Metadata["tool_call_id"].(string)
		}
	}
	if callID == "" || callID != resultID {
		t.Fatalf("expected tool call and result to share id, got call=%q result=%q", callID, resultID)
	}
}

func TestRun_HandoffAndMessageEventsPassThrough(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 2)
	upstream <- agent.UpstreamEvent{HandoffTarget: "reviewer"}
	upstream <- agent.UpstreamEvent{Messages: []agent.Message{{Content: "done"}}}
	close(upstream)

	mux := NewMultiplexer("sess-1", "a", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	var sawHandoff, sawMessage bool
	for _, ev := range events {
		if ev.Kind == KindHandoff && ev.Content == "reviewer" {
			sawHandoff = true
		}
		if ev.Kind == KindMessage && ev.Content == "done" {
			sawMessage = true
		}
	}
	if !sawHandoff || !sawMessage {
		t.Fatalf("expected both handoff and message events to pass through, got %+v", events)
	}
}

func TestRun_HeartbeatFiresOnShortInterval(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent)
	cfg := Config{WindowSize: 10, MaxBufferSize: 50, HeartbeatInterval: 5 * time.Millisecond}
	mux := NewMultiplexer("sess-1", "a", cfg)
	out := mux.Run(context.Background(), upstream)

	select {
	case ev := <-out:
		if ev.Kind != KindHeartbeat {
			t.Fatalf("expected a heartbeat event, got %s", ev.Kind)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a heartbeat within the timeout")
	}
	close(upstream)
	drain(t, out, time.Second)
}

func TestRun_ChunkIDsAreUniqueAndCarrySession(t *testing.T) {
	upstream := make(chan agent.UpstreamEvent, 3)
	upstream <- agent.UpstreamEvent{DeltaContent: "a"}
	upstream <- agent.UpstreamEvent{DeltaContent: "b"}
	close(upstream)

	mux := NewMultiplexer("sess-9", "a", DefaultConfig())
	events := drain(t, mux.Run(context.Background(), upstream), time.Second)

	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.ChunkID] {
			t.Fatalf("duplicate chunk id %q", ev.ChunkID)
		}
		seen[ev.ChunkID] = true
		if ev.SessionID != "sess-9" {
			t.Fatalf("expected session id propagated to every event, got %q", ev.SessionID)
		}
	}
}
