// Package ring implements the single-producer/single-consumer sample queue
// between the decode goroutine and the real-time output callback.
package ring

import (
	"sync/atomic"
)

// Buffer is a fixed-capacity SPSC queue of interleaved float32 samples.
//
// Exactly one goroutine may call the producer methods (Push, Free) and exactly
// one may call the consumer methods (Pop, Discard). Neither side ever takes a
// lock; head and tail are monotonically increasing counters, so the
// difference tail-head is always the number of queued samples.
type Buffer struct {
	data []float32
	size uint64

	// head is owned by the consumer, tail by the producer.
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
}

// New allocates a ring holding up to capacity samples. Capacity below 1 is
// raised to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data: make([]float32, capacity),
		size: uint64(capacity),
	}
}

func (b *Buffer) Cap() int { return int(b.size) }

// Len is the number of queued samples. Safe to call from either side; the
// value may be stale by the time it is used.
func (b *Buffer) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

// Free is the number of samples the producer can push without overwriting.
func (b *Buffer) Free() int {
	return int(b.size - (b.tail.Load() - b.head.Load()))
}

// Push copies as many samples from src as fit and returns how many were queued.
func (b *Buffer) Push(src []float32) int {
	tail := b.tail.Load()
	free := b.size - (tail - b.head.Load())
	n := uint64(len(src))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	start := tail % b.size
	first := min(n, b.size-start)
	copy(b.data[start:start+first], src[:first])
	copy(b.data[:n-first], src[first:n])

	b.tail.Store(tail + n)
	return int(n)
}

// Pop moves up to len(dst) samples into dst and returns the count. It never
// blocks and never allocates.
func (b *Buffer) Pop(dst []float32) int {
	head := b.head.Load()
	avail := b.tail.Load() - head
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	start := head % b.size
	first := min(n, b.size-start)
	copy(dst[:first], b.data[start:start+first])
	copy(dst[first:n], b.data[:n-first])

	b.head.Store(head + n)
	return int(n)
}

// Discard drops everything currently queued. Consumer side only.
func (b *Buffer) Discard() int {
	head := b.head.Load()
	tail := b.tail.Load()
	b.head.Store(tail)
	return int(tail - head)
}
