package buffer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

var (
	// ErrUnavailable is returned by a TransferFunc when the socket would block
	ErrUnavailable = errors.New("transfer would block")
	// ErrBroken is returned by a TransferFunc when the peer is gone
	ErrBroken = errors.New("connection broken")
)

// TransferFunc performs a single non-blocking transfer for the head vector
// and returns the number of bytes moved. It returns ErrUnavailable when the
// socket has no capacity; any other error breaks the queue.
type TransferFunc func(v *Vector) (int, error)

// Status is the outcome of a Progress call
type Status uint8

const (
	// StatusIdle means the queue ran empty
	StatusIdle Status = iota
	// StatusBlocked means the socket would block, retry on the next readiness event
	StatusBlocked
	// StatusBroken means the transfer failed and the queue was closed
	StatusBroken
	// StatusBusy means another goroutine is driving the queue and will pick up the work
	StatusBusy
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBlocked:
		return "blocked"
	case StatusBroken:
		return "broken"
	default:
		return "busy"
	}
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// Queue is a FIFO of vectors. Vectors are started and completed strictly in
// post order, every vector completes exactly once.
//
// At most one goroutine drives the queue at a time. A Progress call that
// finds the queue busy leaves a note for the driving goroutine, which runs
// another round before it lets go, so readiness is never lost and no lock is
// held across a callback.
type Queue struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool

	busy  atomic.Bool
	again atomic.Bool
}

func NewQueue() *Queue {
	return &Queue{items: queue.New()}
}

// Post appends vectors. If the queue is closed they complete with
// StateCleanup right away and Post returns false.
func (q *Queue) Post(vs ...*Vector) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		for _, v := range vs {
			v.complete(StateCleanup)
		}
		return false
	}
	for _, v := range vs {
		q.items.Add(v)
	}
	q.mu.Unlock()
	return true
}

// Len returns the number of queued (not yet completed) vectors
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Closed reports whether the queue stopped accepting vectors
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Progress drives the queue with transfer until it runs empty, the socket
// would block, or the transfer fails.
func (q *Queue) Progress(transfer TransferFunc) Status {
	q.again.Store(true)
	st := StatusBusy
	for q.again.Load() {
		if !q.busy.CompareAndSwap(false, true) {
			return st
		}
		for q.again.Swap(false) {
			st = q.drive(transfer)
			if st == StatusBroken {
				break
			}
		}
		q.busy.Store(false)
		if st == StatusBroken {
			return st
		}
	}
	return st
}

// Fail completes the head vector with StateError and flushes the rest with
// StateCleanup. The queue is closed afterwards.
func (q *Queue) Fail() {
	q.flush(StateError)
}

// Close flushes every queued vector with StateCleanup and rejects later posts
func (q *Queue) Close() {
	q.flush(StateCleanup)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (q *Queue) drive(transfer TransferFunc) Status {
	for {
		v := q.head()
		if v == nil {
			return StatusIdle
		}
		if v.Remaining() > 0 {
			n, err := transfer(v)
			if n > 0 {
				v.Advance(n)
			}
			if err != nil {
				if errors.Is(err, ErrUnavailable) {
					return StatusBlocked
				}
				q.Fail()
				return StatusBroken
			}
			if n == 0 {
				return StatusBlocked
			}
			if !v.Done() {
				continue
			}
		}
		if q.pop(v) {
			v.complete(StateDone)
		}
	}
}

func (q *Queue) head() *Vector {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.items.Length() == 0 {
		return nil
	}
	return q.items.Peek().(*Vector)
}

// pop removes v if it is still the head
func (q *Queue) pop(v *Vector) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.items.Length() == 0 || q.items.Peek().(*Vector) != v {
		return false
	}
	q.items.Remove()
	return true
}

func (q *Queue) flush(first State) {
	q.mu.Lock()
	q.closed = true
	pending := make([]*Vector, 0, q.items.Length())
	for q.items.Length() > 0 {
		pending = append(pending, q.items.Remove().(*Vector))
	}
	q.mu.Unlock()

	for i, v := range pending {
		if i == 0 {
			v.complete(first)
			continue
		}
		v.complete(StateCleanup)
	}
}
