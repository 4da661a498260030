package reactor

import (
	"runtime"
	"sync/atomic"
)

const cacheLinePad = 64

// stopSentinel tells a worker to exit
const stopSentinel = -1

// idleSpins is how often an idle worker yields before it parks
const idleSpins = 16

// ring is a bounded multi-producer multi-consumer queue of descriptors
// (sequence-numbered cells, after Dmitry Vyukov). Each worker owns one; the
// poller of its direction and the reactor itself produce into it.
type ring struct {
	head  atomic.Uint64
	_     [cacheLinePad]byte
	tail  atomic.Uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell

	// wake holds at most one token; a consumer that found the ring empty
	// blocks on it
	wake chan struct{}
}

type cell struct {
	sequence atomic.Uint64
	fd       int
}

// newRing creates a ring with capacity rounded up to a power of two
func newRing(capacity int) *ring {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &ring{
		mask:  uint64(size - 1),
		cells: make([]cell, size),
		wake:  make(chan struct{}, 1),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// tryPush adds fd, false if the ring is full
func (q *ring) tryPush(fd int) bool {
	for {
		tail := q.tail.Load()
		c := &q.cells[tail&q.mask]
		dif := int64(c.sequence.Load()) - int64(tail)
		switch {
		case dif == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				c.fd = fd
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
	}
}

// push adds fd, backing off while the ring is full, and wakes the consumer.
// Readiness is edge-triggered so an event must never be dropped.
func (q *ring) push(fd int) {
	var backoff uint8
	for !q.tryPush(fd) {
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
	q.signal()
}

// signal leaves a wake token unless one is already pending
func (q *ring) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest descriptor, false if the ring is empty
func (q *ring) pop() (int, bool) {
	for {
		head := q.head.Load()
		c := &q.cells[head&q.mask]
		dif := int64(c.sequence.Load()) - int64(head+1)
		switch {
		case dif == 0:
			if q.head.CompareAndSwap(head, head+1) {
				fd := c.fd
				c.sequence.Store(head + q.mask + 1)
				return fd, true
			}
		case dif < 0:
			return 0, false
		}
	}
}

// next blocks until a descriptor is available. An empty ring is polled a
// few times, yielding in between, before the consumer parks.
func (q *ring) next() int {
	for {
		for i := 0; i < idleSpins; i++ {
			if fd, ok := q.pop(); ok {
				return fd
			}
			runtime.Gosched()
		}
		<-q.wake
	}
}

// len is approximate under concurrent use
func (q *ring) len() int {
	return int(q.tail.Load() - q.head.Load())
}
