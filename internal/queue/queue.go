// Package queue provides an unbounded FIFO safe for concurrent use.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// Push appends items to the queue.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// PushUnlessLast appends item unless it equals the current tail according
// to eq. It reports whether item was appended.
func (q *Queue[T]) PushUnlessLast(item T, eq func(a, b T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.items); n > 0 && eq(q.items[n-1], item) {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Shift removes and returns the first item; false when the queue is empty.
func (q *Queue[T]) Shift() (T, bool) {
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

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
