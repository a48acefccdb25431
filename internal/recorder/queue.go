package recorder

import "sync"

// Queue is a thread-safe FIFO ring buffer that doubles its capacity when it
// reaches 70% full, up to a maximum. Once at the maximum, Push drops the
// oldest item to make room.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	count    int
	capacity int
	max      int // 0 = unbounded
	closed   bool
	ready    chan struct{}

	// Stats
	pushed      int64
	popped      int64
	dropped     int64
	resizeCount int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len         int
	Capacity    int
	Pushed      int64
	Popped      int64
	Dropped     int64
	ResizeCount int
}

// NewQueue creates a queue with the given initial and maximum capacity.
// A max of zero or less leaves the queue unbounded.
func NewQueue[T any](initialCapacity, max int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if max > 0 && initialCapacity > max {
		initialCapacity = max
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		max:      max,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && (q.max <= 0 || q.capacity < q.max) {
		q.grow()
	}

	if q.count == q.capacity {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
	}

	q.buf[(q.head+q.count)%q.capacity] = item
	q.count++
	q.pushed++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after a Push. A single signal may cover several items,
// so consumers should Drain until empty.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes up to max items (all items if max <= 0) in FIFO order.
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
	var zero T
	for i := 0; i < n; i++ {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// Close stops further pushes. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:         q.count,
		Capacity:    q.capacity,
		Pushed:      q.pushed,
		Popped:      q.popped,
		Dropped:     q.dropped,
		ResizeCount: q.resizeCount,
	}
}

// grow doubles the capacity, capped at max. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if q.max > 0 && newCapacity > q.max {
		newCapacity = q.max
	}
	if newCapacity == q.capacity {
		return
	}

	newBuf := make([]T, newCapacity)
	for i := 0; i < q.count; i++ {
		newBuf[i] = q.buf[(q.head+i)%q.capacity]
	}

	q.buf = newBuf
	q.head = 0
	q.capacity = newCapacity
	q.resizeCount++
}
