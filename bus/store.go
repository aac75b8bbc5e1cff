package bus

import (
	"context"

	"github.com/quillflow/quillflow/runner"
)

// EventStore persists execution events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runner.Event) error

	// List returns events for an execution, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]runner.Event, error)

	// LatestSeq returns the highest Seq for an execution (0 if no events).
	LatestSeq(ctx context.Context, executionID string) (uint64, error)
}
