// Package bus distributes test-execution events to subscribers. It decouples
// the runner from observers such as SSE streams, loggers, and the metrics
// emitter.
package bus

import "github.com/quillflow/quillflow/runner"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runner.Event)

	// Subscribe registers a subscriber for a specific execution.
	// Returns a Subscription that must be closed when done.
	Subscribe(executionID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// executions. Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runner.Event

	// Close unsubscribes and releases resources.
	Close() error
}
