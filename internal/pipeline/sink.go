package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// defaultQueueCapacity bounds the outbound queue when Sink is constructed
// with capacity <= 0.
const defaultQueueCapacity = 64

// Sink is the per-connection bounded outbound queue: a single sender
// goroutine drains it in FIFO order and hands each message to send.
// Producers calling Enqueue block once the queue is full, which is the
// back-pressure spec.md §4.9 calls for ("producers block on full queue").
//
// Grounded on pkg/audio/mixer.PriorityMixer's single dispatch-goroutine
// pattern, simplified: this queue has no priority or preemption concept —
// spec.md's ordering guarantee ("the sender is single-consumer, enforcing
// FIFO") needs strict order, not the mixer's priority-queue reordering.
type Sink struct {
	send  func(OutboundMessage) error
	queue chan OutboundMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSink starts a Sink's background sender goroutine immediately. send is
// called sequentially, once per message, in the order Enqueue was called;
// it must not block indefinitely.
func NewSink(send func(OutboundMessage) error, capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	s := &Sink{
		send:   send,
		queue:  make(chan OutboundMessage, capacity),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.closed)
	for msg := range s.queue {
		if err := s.send(msg); err != nil {
			slog.Warn("pipeline: outbound send failed", "type", msg.Type, "error", err)
		}
	}
}

// Enqueue appends msg to the queue, blocking if it is full until space
// frees up or ctx is cancelled.
func (s *Sink) Enqueue(ctx context.Context, msg OutboundMessage) error {
	select {
	case s.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new messages and blocks until every already-queued
// message has been sent. Close is safe to call more than once.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.closed
}
