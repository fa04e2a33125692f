// Package eventstore persists PetalRules evaluation events so that
// evaluations can be inspected after the fact.
package eventstore

import (
	"context"

	"github.com/petal-labs/petalrules"
)

// EventStore persists evaluation events.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event petalrules.Event) error

	// List returns events for an evaluation, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, evalID string, afterSeq uint64, limit int) ([]petalrules.Event, error)

	// LatestSeq returns the highest Seq for an evaluation (0 if no events).
	LatestSeq(ctx context.Context, evalID string) (uint64, error)

	// EvalIDs returns the stored evaluation ids, oldest first.
	EvalIDs(ctx context.Context) ([]string, error)
}
