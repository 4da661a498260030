package buffer

import (
	"math/bits"
	"sync"
)

// Size classes are powers of two from 512 B to 64 MB. Larger buffers are
// allocated directly and left to the GC.
const (
	minClassShift = 9
	maxClassShift = 26
)

var classes [maxClassShift - minClassShift + 1]sync.Pool

func init() {
	for i := range classes {
		size := 1 << (i + minClassShift)
		classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// classOf returns the pool index for a buffer of size n, or -1
func classOf(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns a buffer of length n. Its content is undefined.
func Get(n int) []byte {
	c := classOf(n)
	if c < 0 {
		return make([]byte, n)
	}
	bp := classes[c].Get().(*[]byte)
	return (*bp)[:n]
}

// Put returns a buffer obtained from Get to its pool
func Put(b []byte) {
	c := cap(b)
	if c < 1<<minClassShift || c&(c-1) != 0 {
		return
	}
	idx := bits.Len(uint(c)) - 1 - minClassShift
	if idx < 0 || idx >= len(classes) {
		return
	}
	b = b[:c]
	classes[idx].Put(&b)
}
