package eventstore

import (
	"context"
	"log/slog"

	"github.com/petal-labs/petalrules"
)

// StoreSubscriber writes events to an EventStore.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store. Failures are logged; they
// never affect the evaluation that produced the event.
func (s *StoreSubscriber) Handle(event petalrules.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"eval_id", event.EvalID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Handler returns Handle as an evaluation event handler.
func (s *StoreSubscriber) Handler() petalrules.EventHandler {
	return s.Handle
}
