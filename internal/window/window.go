package window

import "fmt"

// Window is a fixed-capacity FIFO buffer. When full, pushing a new element
// evicts the oldest one. Not safe for concurrent use; the owning tracker
// serializes access.
type Window[T any] struct {
	capacity int
	buf      []T
	start    int
	length   int
}

// New creates a window holding at most capacity elements
func New[T any](capacity int) (*Window[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("window capacity must be >= 1, got %d", capacity)
	}
	return &Window[T]{
		capacity: capacity,
		buf:      make([]T, capacity),
	}, nil
}

// Push appends value, evicting the oldest element if the window is full
func (w *Window[T]) Push(value T) {
	if w.length < w.capacity {
		w.buf[(w.start+w.length)%w.capacity] = value
		w.length++
		return
	}
	w.buf[w.start] = value
	w.start = (w.start + 1) % w.capacity
}

// Values returns the current contents, oldest first. The returned slice is
// a copy and safe to retain.
func (w *Window[T]) Values() []T {
	out := make([]T, w.length)
	for i := 0; i < w.length; i++ {
		out[i] = w.buf[(w.start+i)%w.capacity]
	}
	return out
}

// Len returns the number of elements currently held
func (w *Window[T]) Len() int {
	return w.length
}

// Cap returns the window capacity
func (w *Window[T]) Cap() int {
	return w.capacity
}

// Reset discards all elements, keeping the capacity
func (w *Window[T]) Reset() {
	w.start = 0
	w.length = 0
}
