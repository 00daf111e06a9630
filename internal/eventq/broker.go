// Package eventq fans registry events out to subscribers.
package eventq

import (
	"context"
	"sync"

	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/handoff"
)

// DefaultBuffer is the subscriber channel size used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 256

// Broker fans published values out to every current subscriber. Publish
// never blocks and never drops: each subscriber has its own unbounded queue
// drained into its channel by a forwarding goroutine, so a slow subscriber
// only grows its own backlog.
type Broker[T any] struct {
	name string

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	queue  *handoff.Queue[T]
	cancel context.CancelFunc
}

// NewBroker returns a broker; name tags its log lines.
func NewBroker[T any](name string) *Broker[T] {
	return &Broker[T]{name: name, subs: make(map[int]*subscriber[T])}
}

// Subscribe registers a new subscriber. It receives every value published
// after Subscribe returns, in publish order. The returned cancel func
// removes it and closes the channel; it is safe to call more than once.
func (b *Broker[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber[T]{queue: handoff.New[T](), cancel: cancel}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go b.forward(ctx, id, sub.queue, ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			cancel()
			sub.queue.Close()
		})
	}
}

// forward drains q into ch until the queue is closed and empty or the
// subscription is cancelled, then closes ch.
func (b *Broker[T]) forward(ctx context.Context, id int, q *handoff.Queue[T], ch chan<- T) {
	defer close(ch)
	for {
		v, err := q.Pop(ctx)
		if err != nil {
			return
		}
		select {
		case ch <- v:
		case <-ctx.Done():
			debug.LogKV("eventq", "subscriber cancelled with backlog", "broker", b.name, "subscriber", id, "pending", q.Len()+1)
			return
		}
	}
}

// Publish queues v for every subscriber without blocking. It returns the
// number of subscribers it was queued for.
func (b *Broker[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	queued := 0
	for _, sub := range b.subs {
		if sub.queue.Push(v) {
			queued++
		}
	}
	return queued
}

// Subscribers returns the current subscriber count.
func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Values already published are still
// delivered before a subscriber's channel is closed. Later subscriptions
// receive an already-closed channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.queue.Close()
		delete(b.subs, id)
	}
}
