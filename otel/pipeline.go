package otel

import (
	"context"

	"github.com/quillflow/quillflow/bus"
	"github.com/quillflow/quillflow/runner"
)

// EventHandler consumes execution events. Both TracingHandler and
// MetricsHandler satisfy it.
type EventHandler interface {
	Handle(e runner.Event)
}

// Pipeline drains a bus subscription into a set of handlers. It runs a
// single goroutine so handlers never need their own synchronization against
// the bus.
type Pipeline struct {
	sub      bus.Subscription
	handlers []EventHandler
	done     chan struct{}
}

// NewPipeline subscribes to all executions on the bus and fans events out to
// the given handlers in order.
func NewPipeline(b bus.EventBus, handlers ...EventHandler) *Pipeline {
	p := &Pipeline{
		sub:      b.SubscribeAll(),
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Pipeline) loop() {
	defer close(p.done)
	for e := range p.sub.Events() {
		for _, h := range p.handlers {
			h.Handle(e)
		}
	}
}

// Close unsubscribes and waits for in-flight events to drain.
func (p *Pipeline) Close(ctx context.Context) error {
	if err := p.sub.Close(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
