// Package queue provides the scheduler's concurrent priority work queue.
package queue

import (
	"cmp"
	"container/heap"
	"sync"
)

// Priority is a thread-safe max-priority queue.
//
// Higher priorities are served first. Entries of equal priority are served in
// arrival order. Capacity is a hint for the initial allocation only; the queue
// grows without bound and Enqueue never blocks.
type Priority[T any, P cmp.Ordered] struct {
	mu    sync.Mutex
	items entries[T, P]
	seq   uint64
}

// New creates a queue with room for capacity entries before it has to grow.
func New[T any, P cmp.Ordered](capacity int) *Priority[T, P] {
	if capacity < 0 {
		capacity = 0
	}
	return &Priority[T, P]{items: make(entries[T, P], 0, capacity)}
}

// Enqueue inserts v with priority p in O(log n).
func (q *Priority[T, P]) Enqueue(v T, p P) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, entry[T, P]{value: v, priority: p, seq: q.seq})
	q.mu.Unlock()
}

// TryDequeue removes and returns the highest-priority entry.
// found is false when the queue is empty; it never blocks.
func (q *Priority[T, P]) TryDequeue() (v T, p P, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, p, false
	}
	e := heap.Pop(&q.items).(entry[T, P])
	return e.value, e.priority, true
}

// Len returns the number of queued entries.
func (q *Priority[T, P]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type entry[T any, P cmp.Ordered] struct {
	value    T
	priority P
	seq      uint64
}

// entries implements heap.Interface as a max-heap on priority, FIFO on ties.
type entries[T any, P cmp.Ordered] []entry[T, P]

func (h entries[T, P]) Len() int { return len(h) }

func (h entries[T, P]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entries[T, P]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entries[T, P]) Push(x any) { *h = append(*h, x.(entry[T, P])) }

func (h *entries[T, P]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	// Drop the reference so the popped value can be collected.
	old[n-1] = entry[T, P]{}
	*h = old[:n-1]
	return e
}
