package tracker

// deque is a bounded FIFO buffer. Pushing over capacity silently evicts the
// oldest entry. Not safe for concurrent use; the tracker guards all deques
// with one lock.
type deque[T any] struct {
	capacity int
	items    []T // oldest first
}

func newDeque[T any](capacity int) *deque[T] {
	return &deque[T]{capacity: capacity}
}

// push appends v, evicting the head when full. Returns the evicted entry.
func (d *deque[T]) push(v T) (evicted T, didEvict bool) {
	if len(d.items) >= d.capacity {
		evicted = d.items[0]
		didEvict = true
		d.items = append(d.items[:0], d.items[1:]...)
	}
	d.items = append(d.items, v)
	return evicted, didEvict
}

// tail returns the newest entry.
func (d *deque[T]) tail() (T, bool) {
	if len(d.items) == 0 {
		var zero T
		return zero, false
	}
	return d.items[len(d.items)-1], true
}

// replaceTail swaps the newest entry in place.
func (d *deque[T]) replaceTail(v T) bool {
	if len(d.items) == 0 {
		return false
	}
	d.items[len(d.items)-1] = v
	return true
}

// newestFirst returns a copy in reverse insertion order, at most limit
// entries (limit <= 0 means all).
func (d *deque[T]) newestFirst(limit int) []T {
	n := len(d.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]T, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.items[i])
	}
	return out
}

func (d *deque[T]) len() int { return len(d.items) }

func (d *deque[T]) clear() { d.items = nil }
