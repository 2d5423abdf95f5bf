// Package series provides fixed-capacity rolling series used by the bias and
// trap engines for per-tick history.
package series

// Ring is a fixed-capacity ring buffer. Pushing beyond capacity evicts the
// oldest element in O(1). The zero value is not usable; use NewRing.
type Ring[T any] struct {
	buf   []T
	head  int // index of oldest element
	count int
}

// NewRing creates a ring buffer holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// At returns the i-th element, oldest first. Panics if out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("series: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Latest returns the newest element and true, or the zero value and false
// when the ring is empty.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.At(r.count - 1), true
}

// Last returns up to n newest elements, oldest first. The returned slice is
// freshly allocated.
func (r *Ring[T]) Last(n int) []T {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.count - n + i)
	}
	return out
}

// Values returns all elements oldest first.
func (r *Ring[T]) Values() []T {
	return r.Last(r.count)
}

// Window returns elements [from, to) by age order, oldest first. Indices are
// clamped to the stored range.
func (r *Ring[T]) Window(from, to int) []T {
	if from < 0 {
		from = 0
	}
	if to > r.count {
		to = r.count
	}
	if from >= to {
		return nil
	}
	out := make([]T, to-from)
	for i := from; i < to; i++ {
		out[i-from] = r.At(i)
	}
	return out
}

// MaxFloat returns the maximum of the values, or 0 when empty.
func MaxFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// MinFloat returns the minimum of the values, or 0 when empty.
func MinFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// AvgFloat returns the arithmetic mean of the values, or 0 when empty.
func AvgFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
