package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/registry")

var ErrDuplicateFD = errors.New("descriptor already registered")

// Registry is the directory of live connections, indexed by socket
// descriptor and by peer endpoint. An inserted connection's owner reference
// belongs to the registry and is given up when the connection is removed.
//
// One lock guards membership. Lookups acquire the returned connection while
// still holding it, so a concurrent removal can never tear down a connection
// between the lookup and the caller's Acquire.
type Registry struct {
	mu     sync.RWMutex
	byFD   map[int]entry
	byPeer map[common.Endpoint]*conn.Connection
	idle   *idleHeap
}

type entry struct {
	c  *conn.Connection
	ep common.Endpoint
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		byFD:   make(map[int]entry),
		byPeer: make(map[common.Endpoint]*conn.Connection),
		idle:   newIdleHeap(),
	}
}

// Insert registers c under fd and ep. It fails if fd is already registered.
// If another connection is already indexed under ep, that mapping is kept
// and c is only reachable by descriptor.
func (r *Registry) Insert(ep common.Endpoint, fd int, c *conn.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byFD[fd]; ok {
		return fmt.Errorf("%w: fd %d", ErrDuplicateFD, fd)
	}
	r.byFD[fd] = entry{c: c, ep: ep}
	if _, ok := r.byPeer[ep]; !ok {
		r.byPeer[ep] = c
	} else {
		Logger.Debugf("endpoint %s already indexed, %s reachable by fd only", ep, c)
	}
	r.idle.set(fd, c.LastActivity().UnixNano())
	return nil
}

// Find returns the connection registered under fd with a reference taken.
// The caller must Release it.
func (r *Registry) Find(fd int) (*conn.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return acquired(r.byFD[fd].c)
}

// FindEndpoint returns the connection to ep with a reference taken. The
// caller must Release it.
func (r *Registry) FindEndpoint(ep common.Endpoint) (*conn.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return acquired(r.byPeer[ep])
}

// Remove unregisters the connection under fd and closes it. The teardown
// runs once every holder released its reference.
func (r *Registry) Remove(fd int) bool {
	r.mu.Lock()
	e, ok := r.byFD[fd]
	if ok {
		r.unlink(e.c)
	}
	r.mu.Unlock()

	if ok {
		e.c.Close()
	}
	return ok
}

// RemoveConn is Remove guarded by identity: it does nothing if fd has
// meanwhile been reused by another connection.
func (r *Registry) RemoveConn(c *conn.Connection) bool {
	r.mu.Lock()
	ok := r.byFD[c.FD()].c == c
	if ok {
		r.unlink(c)
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// RemoveInactive evicts up to n idle connections, least recently active
// first, and returns how many were evicted. A connection is idle if only
// the registry references it and it has no work in flight.
func (r *Registry) RemoveInactive(n int) int {
	if n <= 0 {
		return 0
	}

	r.mu.Lock()
	for fd, e := range r.byFD {
		r.idle.set(fd, e.c.LastActivity().UnixNano())
	}

	var evicted []*conn.Connection
	var busy []*idleItem
	for len(evicted) < n {
		it, ok := r.idle.popOldest()
		if !ok {
			break
		}
		c := r.byFD[it.FD].c
		if !c.Idle() {
			busy = append(busy, it)
			continue
		}
		r.unlink(c)
		evicted = append(evicted, c)
	}
	for _, it := range busy {
		r.idle.set(it.FD, it.LastSeen)
	}
	r.mu.Unlock()

	for _, c := range evicted {
		Logger.Infof("evicting inactive %s, last activity %s", c, c.LastActivity().Format("15:04:05.000"))
		c.Close()
	}
	return len(evicted)
}

// RemoveAll unregisters and closes every connection
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	all := make([]*conn.Connection, 0, len(r.byFD))
	for _, e := range r.byFD {
		all = append(all, e.c)
	}
	for _, c := range all {
		r.unlink(c)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	return len(all)
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byFD)
}

// Snapshot returns every registered connection with a reference taken.
// The caller must Release each of them.
func (r *Registry) Snapshot() []*conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Connection, 0, len(r.byFD))
	for _, e := range r.byFD {
		if e.c.Acquire() {
			out = append(out, e.c)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// unlink drops c from every index, the caller holds the write lock
func (r *Registry) unlink(c *conn.Connection) {
	fd := c.FD()
	e, ok := r.byFD[fd]
	if !ok || e.c != c {
		return
	}
	delete(r.byFD, fd)
	r.idle.remove(fd)
	if r.byPeer[e.ep] == c {
		delete(r.byPeer, e.ep)
	}
}

func acquired(c *conn.Connection) (*conn.Connection, bool) {
	if c == nil || !c.Acquire() {
		return nil, false
	}
	return c, true
}
