package raspa

import "sync/atomic"

// spscFifo is a bounded single-producer single-consumer queue. Push and pop
// are wait-free and allocation-free, which makes the queue safe to use from
// the RT loop on either side. One slot is kept empty to distinguish full
// from empty.
type spscFifo[T any] struct {
	items []T
	head  atomic.Uint32
	tail  atomic.Uint32
}

func newSpscFifo[T any](capacity int) *spscFifo[T] {
	return &spscFifo[T]{items: make([]T, capacity+1)}
}

// push appends an item. It returns false when the queue is full; the item
// is not stored in that case.
func (f *spscFifo[T]) push(item T) bool {
	tail := f.tail.Load()
	next := f.next(tail)
	if next == f.head.Load() {
		return false
	}

	f.items[tail] = item
	f.tail.Store(next)

	return true
}

// pop removes the oldest item into *item. It returns false when the queue
// is empty.
func (f *spscFifo[T]) pop(item *T) bool {
	head := f.head.Load()
	if head == f.tail.Load() {
		return false
	}

	*item = f.items[head]
	f.head.Store(f.next(head))

	return true
}

// wasEmpty reports whether the queue appeared empty at the time of the call.
func (f *spscFifo[T]) wasEmpty() bool {
	return f.head.Load() == f.tail.Load()
}

func (f *spscFifo[T]) next(pos uint32) uint32 {
	pos++
	if pos == uint32(len(f.items)) {
		return 0
	}

	return pos
}
