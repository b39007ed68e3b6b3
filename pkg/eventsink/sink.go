// Package eventsink provides one-way delivery of workflow progress events.
//
// Sinks are fire-and-forget: the coordinator and agents emit events for
// observers (CLI progress, JSONL audit logs, WebSocket clients) and never
// read anything back. A failing sink degrades observability, never the
// analysis itself.
package eventsink

import (
	"encoding/json"
	"time"
)

// Event types emitted during a workflow run.
const (
	TypePhaseStarted   = "phase_started"
	TypePhaseCompleted = "phase_completed"
	TypeAgentProgress  = "agent_progress"
	TypeAgentRetry     = "agent_retry"
	TypeAgentFallback  = "agent_fallback"
	TypeConflictFound  = "conflict_found"
	TypeRunCompleted   = "run_completed"
	TypeRunFailed      = "run_failed"
)

// Event is a single workflow progress notification.
type Event struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id"`
	Agent      string         `json:"agent,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ToJSON serializes the event as a single JSON document.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// New creates an event stamped with the current time.
func New(eventType, documentID string) Event {
	return Event{
		Type:       eventType,
		DocumentID: documentID,
		Timestamp:  time.Now().UTC(),
	}
}

// Sink receives events. Send must not block indefinitely; errors are
// advisory and callers swallow them after logging.
type Sink interface {
	Send(event Event) error
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Send(Event) error { return nil }

// FuncSink adapts a function to the Sink interface.
type FuncSink func(event Event) error

func (f FuncSink) Send(event Event) error { return f(event) }

// ChannelSink delivers events to a channel, dropping when the receiver
// falls behind. Observers that cannot keep up lose events, not the run.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Send implements Sink.
func (s *ChannelSink) Send(event Event) error {
	select {
	case s.ch <- event:
	default:
		// Receiver is behind; drop rather than stall the workflow.
	}
	return nil
}

// Close closes the underlying channel. Send must not be called after Close.
func (s *ChannelSink) Close() { close(s.ch) }

// MultiSink fans events out to several sinks, returning the first error
// after attempting all of them.
type MultiSink []Sink

func (m MultiSink) Send(event Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Send(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
