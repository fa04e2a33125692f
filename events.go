package petalrules

import (
	"time"

	"github.com/petal-labs/petalrules/core"
)

// EventKind identifies the type of event emitted during evaluation.
type EventKind string

const (
	// EventEvalStarted is emitted when a top-level evaluation begins.
	EventEvalStarted EventKind = "eval.started"

	// EventEvalDiagnostic is emitted each time an evaluation degrades.
	EventEvalDiagnostic EventKind = "eval.diagnostic"

	// EventEvalFinished is emitted when a top-level evaluation completes.
	EventEvalFinished EventKind = "eval.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during one evaluation.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// EvalID is the unique identifier of the evaluation.
	EvalID string

	// Seq is a monotonic sequence number per evaluation (1-indexed).
	Seq uint64

	// Rule is the name of the evaluated rule, or a node description when a
	// node was evaluated directly.
	Rule string

	// ValueKind is the requested result kind.
	ValueKind core.ValueKind

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the evaluation duration (eval.finished only).
	Elapsed time.Duration

	// Diagnostic is set on eval.diagnostic events.
	Diagnostic *Diagnostic

	// Payload contains event-specific data.
	Payload map[string]any
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, evalID string) Event {
	return Event{
		Kind:    kind,
		EvalID:  evalID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
