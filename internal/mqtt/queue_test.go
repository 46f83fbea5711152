package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/espresso-controller/internal/logic"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	ev := logic.Event{Trigger: logic.TriggerPower}

	if !q.Offer(ev) || !q.Offer(ev) {
		t.Fatal("queue should accept up to its size")
	}
	if q.OfferSystem(SystemEvent{Event: "HEARTBEAT"}) {
		t.Error("full queue should reject")
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped: got %d, want 1", q.Dropped())
	}
	if q.Len() != 2 {
		t.Errorf("len: got %d, want 2", q.Len())
	}
}

func TestQueueRunPublishesInOrder(t *testing.T) {
	q := NewQueue(8)
	pub := NewFakePublisher()

	q.OfferSystem(SystemEvent{Event: "STARTUP"})
	q.Offer(logic.Event{Trigger: logic.TriggerPower, To: logic.StateHeating})
	q.Offer(logic.Event{Trigger: logic.TriggerPump, To: logic.StatePreinfusion})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, pub, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.PublishedEvents()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	events := pub.PublishedEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Trigger != logic.TriggerPower || events[1].Trigger != logic.TriggerPump {
		t.Errorf("unexpected order: %s, %s", events[0].Trigger, events[1].Trigger)
	}
	if sys := pub.PublishedSystemEvents(); len(sys) != 1 || sys[0].Event != "STARTUP" {
		t.Errorf("unexpected system events: %+v", sys)
	}
}

func TestQueueFlushesOnCancel(t *testing.T) {
	q := NewQueue(8)
	pub := NewFakePublisher()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q.OfferSystem(SystemEvent{Event: "SHUTDOWN", Reason: "SIGTERM"})
	if err := q.Run(ctx, pub, nil); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	sys := pub.PublishedSystemEvents()
	if len(sys) != 1 || sys[0].Reason != "SIGTERM" {
		t.Errorf("expected flushed SHUTDOWN, got %+v", sys)
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after flush")
	}
}

func TestQueuePublishErrorsDoNotStopRun(t *testing.T) {
	q := NewQueue(8)
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")

	q.Offer(logic.Event{Trigger: logic.TriggerPower})
	q.OfferSystem(SystemEvent{Event: "HEARTBEAT"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx, pub, nil); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(pub.PublishedSystemEvents()) != 1 {
		t.Error("system event after a failed publish should still be sent")
	}
}
