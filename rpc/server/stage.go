package server

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// stage runs request handlers outside of the transport workers. At most
// cap(slots) handlers run at the same time; submit blocks while all slots
// are taken, which stalls the receive worker and through it the peer.
type stage struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	running atomic.Int64
	handled atomic.Uint64
}

func newStage(workers int) *stage {
	// minimum one worker
	if workers < 1 {
		workers = 4 * runtime.NumCPU()
	}
	return &stage{slots: make(chan struct{}, workers)}
}

// submit runs fn on a stage goroutine. It reports false once the stage was
// closed, fn is not run then.
func (s *stage) submit(fn func()) bool {
	if s.closed.Load() {
		return false
	}

	// Acquire a slot (blocks if all workers are busy)
	s.slots <- struct{}{}
	s.wg.Add(1)
	s.running.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Errorf("stage: handler panicked: %v\n%s", r, debug.Stack())
			}
			s.running.Add(-1)
			s.handled.Add(1)
			<-s.slots
			s.wg.Done()
		}()
		fn()
	}()
	return true
}

// close rejects new work and waits for the running handlers. The caller
// has to make sure submit is not called concurrently.
func (s *stage) close() {
	s.closed.Store(true)
	s.wg.Wait()
}

func (s *stage) workers() int { return cap(s.slots) }
