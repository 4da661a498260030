package buffer

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/buffer")

// State is the terminal state a vector completes with
type State uint8

const (
	// StateDone means every byte of the vector was transferred
	StateDone State = iota
	// StateError means the transfer failed on this vector
	StateError
	// StateCleanup means the vector was flushed without being attempted
	// (an earlier vector failed or its connection was torn down)
	StateCleanup
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Callback is invoked exactly once per vector with its terminal state
type Callback func(v *Vector, state State)

// --------------------------------------------------------------------------
// Vector
// --------------------------------------------------------------------------

// Vector is one queued unit of I/O: a buffer (or a file region), how much
// of it was transferred so far and the callback fired on completion.
//
// Owned vectors take their buffer from the pool and give it back after the
// callback returned, unless the callback took the bytes with Detach.
// Borrowed vectors never touch the caller's memory lifetime.
type Vector struct {
	buf  []byte
	file *os.File
	off  int64

	size        int
	transferred int
	owned       bool

	cb    Callback
	fired atomic.Bool

	// Ctx is an opaque value supplied at post time and handed back unchanged
	Ctx any
}

// NewOwned returns a vector with a pooled buffer of the given size
func NewOwned(size int, cb Callback) *Vector {
	return &Vector{
		buf:   Get(size),
		size:  size,
		owned: true,
		cb:    cb,
	}
}

// NewBorrowed returns a vector over caller memory
func NewBorrowed(b []byte, cb Callback) *Vector {
	return &Vector{
		buf:  b,
		size: len(b),
		cb:   cb,
	}
}

// NewFile returns a send vector streaming size bytes of f starting at off
func NewFile(f *os.File, off int64, size int, cb Callback) *Vector {
	return &Vector{
		file: f,
		off:  off,
		size: size,
		cb:   cb,
	}
}

// WithCtx sets the opaque context and returns the vector
func (v *Vector) WithCtx(ctx any) *Vector {
	v.Ctx = ctx
	return v
}

// Bytes returns the full buffer
func (v *Vector) Bytes() []byte {
	if v.buf == nil {
		return nil
	}
	return v.buf[:v.size]
}

// Pending returns the part of the buffer that still has to be transferred
func (v *Vector) Pending() []byte {
	return v.buf[v.transferred:v.size]
}

// File returns the file and the offset of the next byte to send
func (v *Vector) File() (*os.File, int64) {
	return v.file, v.off + int64(v.transferred)
}

func (v *Vector) IsFile() bool     { return v.file != nil }
func (v *Vector) Size() int        { return v.size }
func (v *Vector) Transferred() int { return v.transferred }
func (v *Vector) Remaining() int   { return v.size - v.transferred }
func (v *Vector) Done() bool       { return v.transferred == v.size }
func (v *Vector) Fired() bool      { return v.fired.Load() }

// Advance records n more transferred bytes
func (v *Vector) Advance(n int) {
	if n < 0 || v.transferred+n > v.size {
		panic(fmt.Sprintf("buffer: advance %d exceeds vector (%d/%d)", n, v.transferred, v.size))
	}
	v.transferred += n
}

// Detach hands the buffer to the caller. The engine will not recycle it.
// Only valid inside the completion callback.
func (v *Vector) Detach() []byte {
	b := v.Bytes()
	v.owned = false
	v.buf = nil
	return b
}

// complete fires the callback once and recycles an owned buffer afterwards
func (v *Vector) complete(state State) {
	if !v.fired.CompareAndSwap(false, true) {
		return
	}
	defer v.recycle()
	if v.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("vector callback panicked (state=%s, size=%d): %v", state, v.size, r)
		}
	}()
	v.cb(v, state)
}

func (v *Vector) recycle() {
	if v.owned && v.buf != nil {
		Put(v.buf)
	}
	v.buf = nil
	v.owned = false
}
