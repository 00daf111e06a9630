// Package handoff implements an unbounded single-consumer queue that hands
// items directly to a suspended reader when one is waiting.
package handoff

import (
	"context"
	"errors"
	"sync"

	"github.com/agusx1211/ccplane/internal/debug"
)

// ErrClosed is returned by Pop once the queue is closed and drained. It
// marks the end of the stream.
var ErrClosed = errors.New("handoff: queue closed")

// Queue is a FIFO of T. Push never blocks. Pop suspends until an item is
// available, the queue is closed, or the caller's context ends.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	waiters []chan T
	closed  bool
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push enqueues item. If a Pop is suspended, the oldest one receives the
// item directly. Push on a closed queue is dropped with a warning and
// reports false.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		debug.LogKV("handoff", "push on closed queue dropped")
		return false
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
		// Buffered with capacity 1 and written once, so this never blocks.
		w <- item
		return true
	}
	q.buf = append(q.buf, item)
	return true
}

// Pop returns the oldest item. On a closed and drained queue it returns
// ErrClosed. If ctx ends first it returns ctx.Err(), unless an item was
// already handed to this caller, which is then returned instead of lost.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	if len(q.buf) > 0 {
		item := q.buf[0]
		q.buf[0] = zero
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return item, nil
	}
	if q.closed {
		q.mu.Unlock()
		return zero, ErrClosed
	}
	w := make(chan T, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case item, ok := <-w:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		q.mu.Lock()
		removed := q.removeWaiter(w)
		q.mu.Unlock()
		if !removed {
			// Push or Close got to w first.
			if item, ok := <-w; ok {
				return item, nil
			}
			return zero, ErrClosed
		}
		return zero, ctx.Err()
	}
}

// Close marks the queue closed and wakes every suspended Pop with
// ErrClosed. Items already buffered can still be popped. Calling Close more
// than once is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// removeWaiter must be called with q.mu held.
func (q *Queue[T]) removeWaiter(w chan T) bool {
	for i, c := range q.waiters {
		if c == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
