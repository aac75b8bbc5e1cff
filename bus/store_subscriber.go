package bus

import (
	"context"
	"log/slog"

	"github.com/quillflow/quillflow/runner"
)

// StoreSubscriber writes events to an EventStore as they are published.
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

// Handle persists a single event to the store.
func (s *StoreSubscriber) Handle(event runner.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"execution_id", event.ExecutionID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}
