// Package stage provides the generic hand-off queue and worker loop that
// the translation pipeline is assembled from.
package stage

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a goroutine-safe FIFO. Pop blocks until an item is available
// or its context is done.
//
// A Queue is unbounded unless created with a positive capacity, in which
// case a Push onto a full queue discards the oldest item.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	waitCh   chan struct{}
	capacity int

	pushed  atomic.Int64
	dropped atomic.Int64
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{capacity: capacity}
}

// Push appends item. It reports whether an older item was discarded to
// make room.
func (q *Queue[T]) Push(item T) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped.Add(1)
		dropped = true
	}
	q.items = append(q.items, item)
	q.pushed.Add(1)

	if q.waitCh != nil {
		close(q.waitCh)
		q.waitCh = nil
	}
	return dropped
}

// Pop removes and returns the oldest item, blocking until one is
// available. It returns ctx.Err() if ctx is done first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.waitCh == nil {
			q.waitCh = make(chan struct{})
		}
		ch := q.waitCh
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ch:
		}
	}
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the bound, or 0 if unbounded.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Pushed returns the total number of items ever pushed.
func (q *Queue[T]) Pushed() int64 {
	return q.pushed.Load()
}

// Dropped returns how many items were discarded by the bound.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
