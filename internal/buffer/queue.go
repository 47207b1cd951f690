package buffer

import (
	"sync"
)

// Queue is a thread-safe FIFO ring buffer. It doubles its capacity when an
// insert would reach 70% of it, up to an optional limit. Push never blocks,
// so producers on latency-sensitive paths can enqueue freely.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int // read position
	tail    int // write position
	count   int
	limit   int // 0 = unbounded
	closed  bool
	ready   chan struct{}
	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// NewQueue creates a queue with the given initial capacity. limit caps the
// number of queued items; 0 means unbounded.
func NewQueue[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	return &Queue[T]{
		buf:   make([]T, initialCapacity),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. It returns false when the queue is closed or full; a
// full queue counts the item as dropped.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && q.count >= q.limit {
		q.dropped++
		return false
	}

	threshold := (len(q.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold || q.count == len(q.buf) {
		q.grow()
	}
	if q.count == len(q.buf) {
		// Capped below the growth threshold
		q.dropped++
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++
	q.signal()
	return true
}

// Ready returns a channel that receives a value whenever items may be
// available. Consumers select on it and then drain with TryPop or Drain.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.popLocked(), true
}

// Drain removes up to max items (all when max <= 0) in FIFO order.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	if q.count > 0 {
		q.signal()
	}
	return out
}

// Close rejects further pushes. Queued items stay drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:    q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// Stats contains queue counters.
type Stats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return item
}

// signal wakes one consumer without blocking.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// grow doubles the ring, clamped to limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.buf) {
		return
	}

	next := make([]T, size)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}

	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
