package runner

import (
	"time"

	"github.com/quillflow/quillflow/core"
)

// EventKind identifies the type of event emitted during a test execution.
type EventKind string

const (
	EventExecutionStarted  EventKind = "execution.started"
	EventNodeStarted       EventKind = "node.started"
	EventNodeFinished      EventKind = "node.finished"
	EventNodeFailed        EventKind = "node.failed"
	EventNodeSkipped       EventKind = "node.skipped"
	EventExecutionFinished EventKind = "execution.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string { return string(k) }

// Event is a structured, streamable record of one execution step.
// Events are kept small; node outputs live on the execution record.
type Event struct {
	Kind        EventKind     `json:"kind"`
	ExecutionID string        `json:"executionId"`
	NodeID      string        `json:"nodeId,omitempty"`
	NodeType    core.NodeType `json:"nodeType,omitempty"`
	Time        time.Time     `json:"time"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
	Seq         uint64        `json:"seq"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(kind EventKind, executionID string) Event {
	return Event{
		Kind:        kind,
		ExecutionID: executionID,
		Time:        time.Now(),
		Payload:     make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, nodeType core.NodeType) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventPublisher distributes execution events to subscribers.
// Satisfied by bus.EventBus so the runner never imports the bus package.
type EventPublisher interface {
	Publish(event Event)
}
