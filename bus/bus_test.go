package bus

import (
	"context"
	"testing"
	"time"

	"github.com/quillflow/quillflow/runner"
)

func recvEvent(t *testing.T, sub Subscription) runner.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return runner.Event{}
}

func TestMemBusRoutesByExecution(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	subA := b.Subscribe("exec-a")
	defer subA.Close()
	subB := b.Subscribe("exec-b")
	defer subB.Close()

	b.Publish(runner.Event{Kind: runner.EventNodeStarted, ExecutionID: "exec-a", Seq: 1})

	got := recvEvent(t, subA)
	if got.ExecutionID != "exec-a" {
		t.Errorf("execution = %q", got.ExecutionID)
	}

	select {
	case e := <-subB.Events():
		t.Errorf("subscriber for exec-b received %+v", e)
	default:
	}
}

func TestMemBusSubscribeAll(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	all := b.SubscribeAll()
	defer all.Close()

	b.Publish(runner.Event{Kind: runner.EventNodeStarted, ExecutionID: "exec-a", Seq: 1})
	b.Publish(runner.Event{Kind: runner.EventNodeFinished, ExecutionID: "exec-b", Seq: 1})

	first := recvEvent(t, all)
	second := recvEvent(t, all)
	if first.ExecutionID != "exec-a" || second.ExecutionID != "exec-b" {
		t.Errorf("received %q then %q", first.ExecutionID, second.ExecutionID)
	}
}

func TestMemBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 1})
	defer b.Close()

	sub := b.Subscribe("exec")
	defer sub.Close()

	// Second publish overflows the single-slot buffer and is dropped
	// instead of blocking the publisher.
	b.Publish(runner.Event{ExecutionID: "exec", Seq: 1})
	b.Publish(runner.Event{ExecutionID: "exec", Seq: 2})

	got := recvEvent(t, sub)
	if got.Seq != 1 {
		t.Errorf("Seq = %d, want 1", got.Seq)
	}
	select {
	case e := <-sub.Events():
		t.Errorf("overflow event delivered: %+v", e)
	default:
	}
}

func TestMemBusPublishAfterClose(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	sub := b.Subscribe("exec")
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	// Dropped silently; the subscription channel is already closed.
	b.Publish(runner.Event{ExecutionID: "exec", Seq: 1})

	if _, ok := <-sub.Events(); ok {
		t.Error("event delivered after close")
	}
	// Double close is a no-op.
	if err := sub.Close(); err != nil {
		t.Errorf("second close errored: %v", err)
	}
}

func TestMemEventStoreListFilters(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := s.Append(ctx, runner.Event{ExecutionID: "exec", Seq: seq}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Append(ctx, runner.Event{ExecutionID: "other", Seq: 1}); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx, "exec", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}

	after, err := s.List(ctx, "exec", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].Seq != 4 {
		t.Errorf("afterSeq=3 returned %+v", after)
	}

	limited, err := s.List(ctx, "exec", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[1].Seq != 2 {
		t.Errorf("limit=2 returned %+v", limited)
	}

	none, err := s.List(ctx, "unknown", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown execution returned %+v", none)
	}
}

func TestMemEventStoreLatestSeq(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	if seq, err := s.LatestSeq(ctx, "exec"); err != nil || seq != 0 {
		t.Errorf("empty LatestSeq = %d, %v", seq, err)
	}

	for _, seq := range []uint64{2, 5, 3} {
		if err := s.Append(ctx, runner.Event{ExecutionID: "exec", Seq: seq}); err != nil {
			t.Fatal(err)
		}
	}
	if seq, err := s.LatestSeq(ctx, "exec"); err != nil || seq != 5 {
		t.Errorf("LatestSeq = %d, %v, want 5", seq, err)
	}
}

func TestStoreSubscriberPersistsEvents(t *testing.T) {
	store := NewMemEventStore()
	sub := NewStoreSubscriber(store, nil)

	sub.Handle(runner.Event{Kind: runner.EventExecutionStarted, ExecutionID: "exec", Seq: 1})
	sub.Handle(runner.Event{Kind: runner.EventExecutionFinished, ExecutionID: "exec", Seq: 2})

	events, err := store.List(context.Background(), "exec", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Kind != runner.EventExecutionFinished {
		t.Errorf("stored events = %+v", events)
	}
}
