package signal

// Ring is a fixed-capacity FIFO that overwrites its oldest element when full.
// It is not safe for concurrent use; Buffer serializes access to its rings.
type Ring[T any] struct {
	data  []T
	head  int // next write position
	count int
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends item, evicting the oldest element if the ring is full.
func (r *Ring[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Last copies out up to n of the most recent elements, oldest first.
// n <= 0 returns every stored element.
func (r *Ring[T]) Last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}

	out := make([]T, n)
	start := (r.head - n + len(r.data)) % len(r.data)
	first := copy(out, r.data[start:min(start+n, len(r.data))])
	copy(out[first:], r.data[:n-first])

	return out
}
