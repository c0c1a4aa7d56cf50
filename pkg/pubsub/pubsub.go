// Package pubsub implements fire-and-forget topics. Publishing never blocks: every
// subscriber has its own queue, either unbounded or a ring that drops the oldest values.
package pubsub

import (
	"sync"

	"github.com/eapache/channels"
)

// Topic is a typed broadcast channel.
type Topic[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscription[T]
	nextID      uint64

	replayLast bool
	last       *T
}

// NewTopic creates a topic. With replayLast set, new subscribers first receive the most
// recently published value.
func NewTopic[T any](replayLast bool) *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[uint64]*Subscription[T]),
		replayLast:  replayLast,
	}
}

// Publish sends v to every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = &v
	for _, sub := range t.subscribers {
		sub.ch.In() <- v
	}
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		var zero T
		return zero, false
	}
	return *t.last, true
}

// Subscribe returns a subscription with an unbounded queue.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	return t.SubscribeBuffered(int64(channels.Infinity))
}

// SubscribeBuffered returns a subscription that queues at most size undelivered values,
// dropping the oldest ones. One more value may be waiting on C. channels.Infinity selects
// an unbounded queue.
func (t *Topic[T]) SubscribeBuffered(size int64) *Subscription[T] {
	var ch channels.Channel
	if size == int64(channels.Infinity) {
		ch = channels.NewInfiniteChannel()
	} else {
		ch = channels.NewRingChannel(channels.BufferCap(size))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription[T]{
		topic: t,
		id:    t.nextID,
		ch:    ch,
		out:   make(chan T),
		done:  make(chan struct{}),
	}
	t.nextID++
	t.subscribers[sub.id] = sub

	if t.replayLast && t.last != nil {
		ch.In() <- *t.last
	}

	go sub.pump()
	return sub
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, id)
}

// Subscription is one subscriber's view of a topic.
type Subscription[T any] struct {
	topic *Topic[T]
	id    uint64
	ch    channels.Channel
	out   chan T

	closeOnce sync.Once
	done      chan struct{}
}

// C returns the channel values are delivered on. It is closed by Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close unsubscribes. Undelivered values are dropped.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.topic.remove(s.id)
		close(s.done)
		s.ch.Close()
	})
}

func (s *Subscription[T]) pump() {
	defer close(s.out)

	for v := range s.ch.Out() {
		select {
		case <-s.done:
			s.drain()
			return
		default:
		}

		select {
		case s.out <- v.(T):
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain lets the channel's internal goroutine exit after Close.
func (s *Subscription[T]) drain() {
	for range s.ch.Out() {
	}
}
