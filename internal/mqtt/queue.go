package mqtt

import (
	"context"
	"sync/atomic"

	"github.com/sweeney/espresso-controller/internal/logic"
)

// DefaultQueueSize is the number of messages a Queue holds before dropping.
const DefaultQueueSize = 64

type queued struct {
	event  *logic.Event
	system *SystemEvent
}

// Queue hands events from the control ticks to a publisher goroutine without
// blocking the caller. When full, new messages are dropped and counted.
type Queue struct {
	ch      chan queued
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to size messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan queued, size)}
}

// Offer enqueues a brew event. It reports false if the queue was full.
func (q *Queue) Offer(event logic.Event) bool {
	return q.offer(queued{event: &event})
}

// OfferSystem enqueues a system event. It reports false if the queue was full.
func (q *Queue) OfferSystem(event SystemEvent) bool {
	return q.offer(queued{system: &event})
}

func (q *Queue) offer(m queued) bool {
	select {
	case q.ch <- m:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of messages discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run publishes queued messages until ctx is cancelled, then flushes what is
// left. Publish errors are logged and do not stop the loop.
func (q *Queue) Run(ctx context.Context, pub Publisher, log Logger) error {
	if log == nil {
		log = noopLogger{}
	}
	for {
		select {
		case <-ctx.Done():
			q.flush(pub, log)
			return nil
		case m := <-q.ch:
			q.publish(pub, log, m)
		}
	}
}

func (q *Queue) flush(pub Publisher, log Logger) {
	for {
		select {
		case m := <-q.ch:
			q.publish(pub, log, m)
		default:
			return
		}
	}
}

func (q *Queue) publish(pub Publisher, log Logger, m queued) {
	switch {
	case m.event != nil:
		if err := pub.Publish(*m.event); err != nil {
			log.Error("mqtt publish failed", "trigger", m.event.Trigger, "error", err)
		}
	case m.system != nil:
		if err := pub.PublishSystem(*m.system); err != nil {
			log.Error("mqtt system publish failed", "event", m.system.Event, "error", err)
		}
	}
}
