// Package ringbuf provides a fixed-capacity FIFO buffer whose contents can be
// shared with concurrent readers without copying.
//
// A [Buffer] is owned by a single writer. Elements are stored in fixed-size
// chunks that are written exactly once per slot; eviction only advances the
// read position and drops whole chunks once they are fully consumed. A [View]
// captured with [Buffer.View] therefore stays valid and unchanged forever,
// even while the writer keeps pushing: the writer never touches a slot that
// any existing view can see.
//
// Publishing a View to another goroutine still requires a synchronizing
// operation (an atomic pointer store, a channel send, a mutex) so that the
// reader observes the writes that preceded the capture.
package ringbuf

import (
	"encoding/json"
	"sort"
)

// DefaultChunkSize is the number of elements per storage chunk.
const DefaultChunkSize = 512

// Buffer is a bounded FIFO of T. The oldest element is evicted when a push
// would exceed the capacity. Buffer is not safe for concurrent writers.
type Buffer[T any] struct {
	capacity  int
	chunkSize int
	chunks    [][]T
	head      int // index of the oldest element inside chunks[0]
	length    int
}

// New creates a buffer holding at most capacity elements.
// A non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	return NewWithChunkSize[T](capacity, DefaultChunkSize)
}

// NewWithChunkSize is like [New] with an explicit chunk size, mainly useful
// for exercising chunk boundaries in tests.
func NewWithChunkSize[T any](capacity, chunkSize int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > capacity {
		chunkSize = capacity
	}
	return &Buffer[T]{
		capacity:  capacity,
		chunkSize: chunkSize,
	}
}

// Push appends v, evicting the oldest element if the buffer is full.
// It reports whether an element was evicted.
func (b *Buffer[T]) Push(v T) bool {
	pos := b.head + b.length
	ci := pos / b.chunkSize
	if ci == len(b.chunks) {
		b.chunks = append(b.chunks, make([]T, b.chunkSize))
	}
	b.chunks[ci][pos%b.chunkSize] = v
	b.length++

	if b.length <= b.capacity {
		return false
	}

	b.head++
	b.length--
	if b.head == b.chunkSize {
		// views may still reference chunks[0], so the slot is left untouched
		b.chunks = b.chunks[1:]
		b.head = 0
	}
	return true
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int { return b.length }

// Cap returns the maximum number of elements.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Last returns the newest element.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.length == 0 {
		return zero, false
	}
	pos := b.head + b.length - 1
	return b.chunks[pos/b.chunkSize][pos%b.chunkSize], true
}

// Reset empties the buffer. Views captured before the reset are unaffected.
func (b *Buffer[T]) Reset() {
	b.chunks = nil
	b.head = 0
	b.length = 0
}

// View captures the current contents. The cost is proportional to the number
// of chunks, not the number of elements.
func (b *Buffer[T]) View() View[T] {
	n := (b.head + b.length + b.chunkSize - 1) / b.chunkSize
	return View[T]{
		chunks:    b.chunks[:n:n],
		chunkSize: b.chunkSize,
		head:      b.head,
		length:    b.length,
	}
}

// View is an immutable, ordered (oldest first) window over a [Buffer].
// The zero View is empty.
type View[T any] struct {
	chunks    [][]T
	chunkSize int
	head      int
	length    int
}

// Len returns the number of elements in the view.
func (v View[T]) Len() int { return v.length }

// At returns the i-th element, oldest first. It panics if i is out of range.
func (v View[T]) At(i int) T {
	if i < 0 || i >= v.length {
		panic("ringbuf: index out of range")
	}
	pos := v.head + i
	return v.chunks[pos/v.chunkSize][pos%v.chunkSize]
}

// Last returns the newest element of the view.
func (v View[T]) Last() (T, bool) {
	var zero T
	if v.length == 0 {
		return zero, false
	}
	return v.At(v.length - 1), true
}

// Slice copies elements [i, j) into a new slice.
func (v View[T]) Slice(i, j int) []T {
	if i < 0 {
		i = 0
	}
	if j > v.length {
		j = v.length
	}
	if i >= j {
		return []T{}
	}
	out := make([]T, 0, j-i)
	for k := i; k < j; k++ {
		out = append(out, v.At(k))
	}
	return out
}

// Items copies every element into a new slice.
func (v View[T]) Items() []T {
	return v.Slice(0, v.length)
}

// Tail copies the newest n elements (fewer if the view is shorter).
func (v View[T]) Tail(n int) []T {
	return v.Slice(v.length-n, v.length)
}

// Search returns the smallest index i for which f(At(i)) is true, assuming f
// is monotonic over the view (false...false true...true). It returns Len()
// when no element satisfies f.
func (v View[T]) Search(f func(T) bool) int {
	return sort.Search(v.length, func(i int) bool { return f(v.At(i)) })
}

// Each calls fn for every element in order until fn returns false.
func (v View[T]) Each(fn func(i int, item T) bool) {
	for i := 0; i < v.length; i++ {
		if !fn(i, v.At(i)) {
			return
		}
	}
}

// MarshalJSON encodes the view as a JSON array.
func (v View[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Items())
}
