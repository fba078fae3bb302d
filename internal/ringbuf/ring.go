// Package ringbuf provides a bounded FIFO that never blocks the producer.
//
// When the ring is full, Push evicts the oldest element to make room.
// Eviction moves the consumer's cursor, so a Ring is not safe for concurrent
// use: the owner serializes Push and PopBatch under its own lock, which also
// lets it snapshot the ring together with its counters.
package ringbuf

// Ring is a bounded drop-oldest FIFO.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int // number of elements
}

// New creates a ring holding at most capacity elements.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. If the ring was full the oldest element is dropped and
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.n == len(r.buf) {
		old = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return old, true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return old, false
}

// PopBatch moves up to max of the oldest elements into dst and returns the
// extended slice. A max below 1 drains everything.
func (r *Ring[T]) PopBatch(dst []T, max int) []T {
	k := r.n
	if max > 0 && max < k {
		k = max
	}
	var zero T
	for i := 0; i < k; i++ {
		dst = append(dst, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
	}
	r.n -= k
	return dst
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.n
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
