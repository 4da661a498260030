package reactor

import (
	"runtime/debug"
	"sync"
)

// pool is the set of workers serving one readiness direction. A descriptor
// is always handled by worker fd%N, so events of one connection and
// direction are processed in order and never concurrently.
type pool struct {
	name   string
	rings  []*ring
	handle func(fd int)
	wg     sync.WaitGroup
}

func newPool(name string, workers, queueSize int, handle func(fd int)) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{
		name:   name,
		rings:  make([]*ring, workers),
		handle: handle,
	}
	for i := range p.rings {
		p.rings[i] = newRing(queueSize)
	}
	return p
}

func (p *pool) start() {
	for i := range p.rings {
		p.wg.Add(1)
		go p.run(i)
	}
}

// dispatch hands fd to its worker
func (p *pool) dispatch(fd int) {
	p.rings[fd%len(p.rings)].push(fd)
}

// tryDispatch is dispatch without waiting for room in a full ring. Workers
// use it, since waiting on their own ring would never end.
func (p *pool) tryDispatch(fd int) bool {
	r := p.rings[fd%len(p.rings)]
	if !r.tryPush(fd) {
		return false
	}
	r.signal()
	return true
}

// stop enqueues the sentinel on every ring and waits for all workers.
// Descriptors queued before the sentinel are still handled.
func (p *pool) stop() {
	for _, r := range p.rings {
		r.push(stopSentinel)
	}
	p.wg.Wait()
}

// backlog returns the number of queued descriptors over all workers
func (p *pool) backlog() int {
	n := 0
	for _, r := range p.rings {
		n += r.len()
	}
	return n
}

func (p *pool) run(i int) {
	defer p.wg.Done()
	r := p.rings[i]
	for {
		fd := r.next()
		if fd == stopSentinel {
			Logger.Debugf("%s worker %d stopped", p.name, i)
			return
		}
		p.safeHandle(i, fd)
	}
}

func (p *pool) safeHandle(worker, fd int) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("%s worker %d: panic handling fd %d: %v\n%s", p.name, worker, fd, r, debug.Stack())
		}
	}()
	p.handle(fd)
}
