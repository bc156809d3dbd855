package trace

import "time"

// EventKind identifies a trace lifecycle transition.
type EventKind string

const (
	EventBegun      EventKind = "begun"
	EventStage      EventKind = "stage"
	EventCompleted  EventKind = "completed"
	EventIncomplete EventKind = "incomplete"
	EventEvicted    EventKind = "evicted"
)

// Event describes one lifecycle transition. EndToEnd and Hops are set on
// terminal events.
type Event struct {
	Kind            EventKind `json:"kind"`
	CorrelationID   string    `json:"correlation_id"`
	ProcessInstance string    `json:"process_instance,omitempty"`
	Stage           Stage     `json:"stage,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Writer          string    `json:"writer,omitempty"`
	At              time.Time `json:"at"`
	EndToEnd        *int64    `json:"end_to_end_ms,omitempty"`
	Hops            []Hop     `json:"hops,omitempty"`
}

// Sink receives lifecycle events. Submit must not block.
type Sink interface {
	Submit(Event)
}

// Sinks fans an event out to several sinks.
type Sinks []Sink

func (s Sinks) Submit(ev Event) {
	for _, sink := range s {
		sink.Submit(ev)
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Submit(ev Event) { f(ev) }
