package bus

import (
	"sync"

	"github.com/quillflow/quillflow/runner"
)

// firehoseKey is the registry bucket for subscribers that want every
// execution's events. Real execution IDs are UUIDs and cannot collide
// with it.
const firehoseKey = "\x00firehose"

// defaultSubscriberBuffer is the per-subscriber channel capacity used when
// the config leaves it unset.
const defaultSubscriberBuffer = 256

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize overrides the per-subscriber channel capacity.
	SubscriberBufferSize int
}

// MemBus fans execution events out to in-process subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than stalling the publisher.
type MemBus struct {
	mu      sync.RWMutex
	buckets map[string][]*memSub
	bufSize int
	closed  bool
}

// NewMemBus creates an in-memory event bus.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	return &MemBus{
		buckets: make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish delivers an event to the subscribers of its execution and to the
// firehose bucket. Publishing on a closed bus is a no-op.
func (b *MemBus) Publish(event runner.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	deliver(event, b.buckets[event.ExecutionID])
	deliver(event, b.buckets[firehoseKey])
}

func deliver(event runner.Event, subs []*memSub) {
	for _, sub := range subs {
		sub.offer(event)
	}
}

// Subscribe registers for one execution's events. The returned
// Subscription must be closed when done.
func (b *MemBus) Subscribe(executionID string) Subscription {
	return b.register(executionID)
}

// SubscribeAll registers for every execution's events. The returned
// Subscription must be closed when done.
func (b *MemBus) SubscribeAll() Subscription {
	return b.register(firehoseKey)
}

func (b *MemBus) register(key string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memSub{ch: make(chan runner.Event, b.bufSize)}
	b.buckets[key] = append(b.buckets[key], sub)
	return sub
}

// Close shuts the bus down and closes every subscription channel.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.buckets {
		for _, sub := range subs {
			sub.shut()
		}
	}
	return nil
}

// memSub is one subscriber's buffered channel.
type memSub struct {
	ch     chan runner.Event
	mu     sync.Mutex
	closed bool
}

// Events returns the subscriber's channel. It is closed when either the
// subscription or the bus closes.
func (s *memSub) Events() <-chan runner.Event {
	return s.ch
}

// Close detaches the subscriber. Safe to call more than once.
func (s *memSub) Close() error {
	s.shut()
	return nil
}

func (s *memSub) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer hands the event to the subscriber without blocking; a full buffer
// or a closed subscription drops it.
func (s *memSub) offer(event runner.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

// Compile-time interface checks.
var (
	_ EventBus     = (*MemBus)(nil)
	_ Subscription = (*memSub)(nil)
)
