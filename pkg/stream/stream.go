// Package stream implements the streaming multiplexer: it consumes an
// agent's upstream event channel and emits a normalized, backpressure-aware
// sequence of StreamEvents with heartbeats and a guaranteed terminal event.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// Kind classifies a normalized StreamEvent.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindHandoff    Kind = "handoff"
	KindMessage    Kind = "message"
	KindError      Kind = "error"
	KindStatus     Kind = "status"
	KindHeartbeat  Kind = "heartbeat"
	KindFinal      Kind = "final"
)

// Event is one normalized item in a stream.
type Event struct {
	ChunkID   string
	SessionID string
	Agent     string
	Kind      Kind
	Content   string
	Timestamp time.Time
	Message   string // populated for error events
	Metadata  map[string]interface{}
}

// FinalPayload is carried by the terminal event's Metadata under the "final"
// key.
type FinalPayload struct {
	TotalEvents  int
	FinalMessage string
	ToolsUsed    []string
	Status       string
}

// Config tunes backpressure and heartbeat behavior.
type Config struct {
	WindowSize        int
	MaxBufferSize     int
	HeartbeatInterval time.Duration
}

// DefaultConfig matches the reference window_size=10, max_buffer_size=50,
// heartbeat_interval=30s.
func DefaultConfig() Config {
	return Config{WindowSize: 10, MaxBufferSize: 50, HeartbeatInterval: 30 * time.Second}
}

type toolCallEntry struct {
	Name        string
	Args        map[string]interface{}
	StartedAt   time.Time
	CompletedAt time.Time
}

// Multiplexer drains one agent's upstream events into a normalized output
// channel, emitting periodic heartbeats and exactly one terminal event.
type Multiplexer struct {
	cfg       Config
	sessionID string
	agentName string

	mu        sync.Mutex
	toolCalls map[string]*toolCallEntry
	eventSeq  int
	errored   bool
}

// NewMultiplexer constructs a Multiplexer for one agent turn.
func NewMultiplexer(sessionID, agentName string, cfg Config) *Multiplexer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 50
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Multiplexer{
		cfg:       cfg,
		sessionID: sessionID,
		agentName: agentName,
		toolCalls: make(map[string]*toolCallEntry),
	}
}

// Run drains upstream, writing normalized events to the returned channel,
// which is closed once the terminal event has been sent. Cancelling ctx
// propagates to upstream drain and causes exactly one error event followed
// by channel close (never a final event after an error).
func (m *Multiplexer) Run(ctx context.Context, upstream <-chan agent.UpstreamEvent) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
		defer heartbeat.Stop()

		var textBuilder strings.Builder
		var toolsUsed []string
		buffered := 0

		emit := func(ev Event) bool {
			ev.SessionID = m.sessionID
			ev.Agent = m.agentName
			ev.Timestamp = time.Now()
			ev.ChunkID = m.nextChunkID()
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finalize := func(status string) {
			emit(Event{
				Kind: KindFinal,
				Metadata: map[string]interface{}{
					"final": FinalPayload{
						TotalEvents:  m.eventSeq,
						FinalMessage: textBuilder.String(),
						ToolsUsed:    toolsUsed,
						Status:       status,
					},
				},
			})
		}

		// cancelled sends the error event without selecting on ctx: ctx is
		// already done, so a select would drop the event at random.
		cancelled := func() {
			m.mu.Lock()
			m.errored = true
			m.mu.Unlock()
			log.WithField("session_id", m.sessionID).Info("stream cancelled")
			out <- Event{Kind: KindError, Message: ctx.Err().Error(), SessionID: m.sessionID, Agent: m.agentName, Timestamp: time.Now(), ChunkID: m.nextChunkID()}
		}

		for {
			select {
			case <-ctx.Done():
				cancelled()
				return

			case <-heartbeat.C:
				emit(Event{Kind: KindHeartbeat})

			case chunk, ok := <-upstream:
				if !ok {
					finalize("completed")
					return
				}

				if buffered > m.cfg.WindowSize {
					delay := time.Duration(float64(buffered)/float64(m.cfg.MaxBufferSize)*100) * time.Millisecond
					if delay > 100*time.Millisecond {
						delay = 100 * time.Millisecond
					}
					time.Sleep(delay)
				}

				if chunk.Err != nil {
					m.mu.Lock()
					m.errored = true
					m.mu.Unlock()
					log.WithField("session_id", m.sessionID).WithError(chunk.Err).Warn("upstream error terminated stream")
					emit(Event{Kind: KindError, Message: chunk.Err.Error()})
					return
				}

				for _, ev := range m.normalize(chunk, &textBuilder, &toolsUsed) {
					if !emit(ev) {
						cancelled()
						return
					}
					buffered++
				}
			}
		}
	}()

	return out
}

func (m *Multiplexer) nextChunkID() string {
	m.mu.Lock()
	m.eventSeq++
	m.mu.Unlock()
	return uuid.NewString()
}

func (m *Multiplexer) normalize(chunk agent.UpstreamEvent, textBuilder *strings.Builder, toolsUsed *[]string) []Event {
	var events []Event

	if chunk.DeltaContent != "" {
		textBuilder.WriteString(chunk.DeltaContent)
		events = append(events, Event{Kind: KindText, Content: chunk.DeltaContent})
	}

	for _, tc := range chunk.ToolCalls {
		m.mu.Lock()
		m.toolCalls[tc.ID] = &toolCallEntry{Name: tc.Name, Args: tc.Args, StartedAt: time.Now()}
		m.mu.Unlock()
		*toolsUsed = append(*toolsUsed, tc.Name)
		events = append(events, Event{Kind: KindToolCall, Content: tc.Name, Metadata: map[string]interface{}{"tool_call_id": tc.ID, "args": tc.Args}})
	}

	for _, tr := range chunk.ToolResults {
		m.mu.Lock()
		if entry, ok := m.toolCalls[tr.ToolCallID]; ok {
			entry.CompletedAt = time.Now()
		}
		m.mu.Unlock()
		content := tr.Output
		if tr.Err != nil {
			content = tr.Err.Error()
		}
		events = append(events, Event{Kind: KindToolResult, Content: content, Metadata: map[string]interface{}{"tool_call_id": tr.ToolCallID}})
	}

	if chunk.HandoffTarget != "" {
		events = append(events, Event{Kind: KindHandoff, Content: chunk.HandoffTarget})
	}

	for _, msg := range chunk.Messages {
		events = append(events, Event{Kind: KindMessage, Content: msg.Content})
	}

	return events
}

// Errored reports whether the multiplexer terminated via an error event.
func (m *Multiplexer) Errored() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errored
}
