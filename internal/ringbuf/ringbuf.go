// Package ringbuf provides a fixed-capacity FIFO ring that overwrites its
// oldest element when full. It backs the per-instrument tick series, the
// validation windows and the prediction ledger.
//
// A Ring is not safe for concurrent use; owners guard it with their own lock.
package ringbuf

// Ring is a bounded FIFO of T. Logical index 0 is the oldest element.
type Ring[T any] struct {
	buf  []T
	pos  int // next write position
	full bool
}

// New creates a ring holding at most capacity elements. Capacity is exact
// (not rounded); values below 1 are raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest element is overwritten and
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.full {
		old, evicted = r.buf[r.pos], true
	}
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
	return old, evicted
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// At returns a pointer to the element at logical index i (0 = oldest).
// The pointer stays valid until the next Push, Filter or Reset.
func (r *Ring[T]) At(i int) *T {
	return &r.buf[r.index(i)]
}

// Last returns a copy of the newest n elements in insertion order.
// n <= 0 or n > Len returns every element.
func (r *Ring[T]) Last(n int) []T {
	count := r.Len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[r.index(count-n+i)]
	}
	return out
}

// Slice returns a copy of every element in insertion order.
func (r *Ring[T]) Slice() []T {
	return r.Last(0)
}

// Filter keeps only the elements for which keep returns true, preserving
// their relative order, and returns the number removed.
func (r *Ring[T]) Filter(keep func(T) bool) int {
	items := r.Slice()
	r.Reset()
	removed := 0
	for _, v := range items {
		if keep(v) {
			r.Push(v)
		} else {
			removed++
		}
	}
	return removed
}

// Reset empties the ring without releasing its storage.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.pos = 0
	r.full = false
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *Ring[T]) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}
