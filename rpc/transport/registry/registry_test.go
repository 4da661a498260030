package registry

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fixture struct {
	env      *conn.Env
	torndown atomic.Int32
	peers    []int
}

func newFixture(t *testing.T) *fixture {
	cfg := common.DefaultTransportConfig()
	f := &fixture{}
	f.env = &conn.Env{
		Config:     &cfg,
		OnTeardown: func(*conn.Connection) { f.torndown.Add(1) },
	}
	t.Cleanup(func() {
		for _, fd := range f.peers {
			_ = unix.Close(fd)
		}
	})
	return f
}

// conn creates a connection over one end of a socket pair
func (f *fixture) conn(t *testing.T, port int) *conn.Connection {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	f.peers = append(f.peers, fds[1])
	return conn.New(fds[0], common.Endpoint{Host: "127.0.0.1", Port: port}, f.env, false)
}

func TestInsertAndFind(t *testing.T) {
	f := newFixture(t)
	r := New()

	c := f.conn(t, 9000)
	require.NoError(t, r.Insert(c.Peer(), c.FD(), c))
	require.ErrorIs(t, r.Insert(c.Peer(), c.FD(), c), ErrDuplicateFD)
	require.Equal(t, 1, r.Len())

	got, ok := r.Find(c.FD())
	require.True(t, ok)
	require.Same(t, c, got)
	require.EqualValues(t, 2, c.Refs())
	got.Release()

	got, ok = r.FindEndpoint(common.Endpoint{Host: "127.0.0.1", Port: 9000})
	require.True(t, ok)
	require.Same(t, c, got)
	got.Release()

	_, ok = r.Find(c.FD() + 1000)
	require.False(t, ok)
	_, ok = r.FindEndpoint(common.Endpoint{Host: "127.0.0.1", Port: 9001})
	require.False(t, ok)

	require.True(t, r.Remove(c.FD()))
	require.False(t, r.Remove(c.FD()))
	require.EqualValues(t, 0, c.Refs())
	require.EqualValues(t, 1, f.torndown.Load())
}

func TestEndpointIndexKeepsFirst(t *testing.T) {
	f := newFixture(t)
	r := New()

	a := f.conn(t, 9000)
	b := f.conn(t, 9000)
	require.NoError(t, r.Insert(a.Peer(), a.FD(), a))
	require.NoError(t, r.Insert(b.Peer(), b.FD(), b))

	got, ok := r.FindEndpoint(a.Peer())
	require.True(t, ok)
	require.Same(t, a, got)
	got.Release()

	// removing b must not drop a's endpoint entry
	require.True(t, r.RemoveConn(b))
	got, ok = r.FindEndpoint(a.Peer())
	require.True(t, ok)
	require.Same(t, a, got)
	got.Release()

	require.True(t, r.RemoveConn(a))
	_, ok = r.FindEndpoint(a.Peer())
	require.False(t, ok)
}

func TestRemoveDefersTeardownUntilReleased(t *testing.T) {
	f := newFixture(t)
	r := New()

	c := f.conn(t, 9000)
	require.NoError(t, r.Insert(c.Peer(), c.FD(), c))

	held, ok := r.Find(c.FD())
	require.True(t, ok)

	require.True(t, r.Remove(c.FD()))
	require.True(t, c.Cleaning())
	require.EqualValues(t, 0, f.torndown.Load())

	// the socket is still open while referenced
	_, err := unix.FcntlInt(uintptr(c.FD()), unix.F_GETFD, 0)
	require.NoError(t, err)

	// a removed connection cannot be found any more
	_, ok = r.Find(c.FD())
	require.False(t, ok)

	held.Release()
	require.EqualValues(t, 1, f.torndown.Load())
	require.False(t, c.Acquire())
}

func TestRemoveConnChecksIdentity(t *testing.T) {
	f := newFixture(t)
	r := New()

	c := f.conn(t, 9000)
	require.NoError(t, r.Insert(c.Peer(), c.FD(), c))

	// a stale connection with the same descriptor number
	stale := conn.New(c.FD(), c.Peer(), f.env, false)
	require.False(t, r.RemoveConn(stale))
	require.Equal(t, 1, r.Len())
	require.False(t, stale.Cleaning())

	require.True(t, r.RemoveConn(c))
	require.Equal(t, 0, r.Len())
}

func TestRemoveInactiveEvictsOldestIdle(t *testing.T) {
	f := newFixture(t)
	r := New()

	var conns []*conn.Connection
	for i := 0; i < 4; i++ {
		c := f.conn(t, 9000+i)
		require.NoError(t, r.Insert(c.Peer(), c.FD(), c))
		conns = append(conns, c)
		time.Sleep(2 * time.Millisecond)
	}

	// the oldest one is in use and must survive
	held, ok := r.Find(conns[0].FD())
	require.True(t, ok)

	require.Equal(t, 1, r.RemoveInactive(1))
	require.True(t, conns[1].Cleaning())
	require.False(t, conns[0].Cleaning())
	require.False(t, conns[2].Cleaning())

	require.Equal(t, 2, r.RemoveInactive(10))
	require.Equal(t, 1, r.Len())
	require.False(t, conns[0].Cleaning())
	require.Equal(t, 0, r.RemoveInactive(10))

	held.Release()
	require.Equal(t, 1, r.RemoveInactive(10))
	require.Equal(t, 0, r.Len())
	require.EqualValues(t, 4, f.torndown.Load())
}

func TestRemoveAllAndSnapshot(t *testing.T) {
	f := newFixture(t)
	r := New()
	for i := 0; i < 5; i++ {
		c := f.conn(t, 9000+i)
		require.NoError(t, r.Insert(c.Peer(), c.FD(), c))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 5)

	require.Equal(t, 5, r.RemoveAll())
	require.Equal(t, 0, r.Len())
	require.EqualValues(t, 0, f.torndown.Load())

	for _, c := range snap {
		c.Release()
	}
	require.EqualValues(t, 5, f.torndown.Load())
}

// TestConcurrentFindRelease races lookups against removal. Every connection
// must be torn down exactly once and only after the last lookup released it.
func TestConcurrentFindRelease(t *testing.T) {
	f := newFixture(t)
	r := New()

	const n = 32
	fds := make([]int, n)
	for i := 0; i < n; i++ {
		c := f.conn(t, 9000+i)
		fds[i] = c.FD()
		require.NoError(t, r.Insert(c.Peer(), c.FD(), c))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				fd := fds[rnd.Intn(n)]
				if c, ok := r.Find(fd); ok {
					if c.FD() != fd || c.Refs() < 1 {
						panic("lookup returned an unreferenced connection")
					}
					c.Release()
				}
			}
		}(int64(g))
	}

	for _, i := range rand.Perm(n) {
		r.Remove(fds[i])
		time.Sleep(100 * time.Microsecond)
	}
	close(stop)
	wg.Wait()

	require.Equal(t, 0, r.Len())
	require.EqualValues(t, n, f.torndown.Load())
}

func TestIdleHeapOrder(t *testing.T) {
	h := newIdleHeap()
	h.set(7, 300)
	h.set(3, 100)
	h.set(5, 200)
	require.Equal(t, 3, h.Len())

	// refreshing moves an entry
	h.set(3, 400)

	require.True(t, h.remove(5))
	require.False(t, h.remove(5))
	require.Equal(t, 2, h.Len())

	var order []int
	for {
		it, ok := h.popOldest()
		if !ok {
			break
		}
		order = append(order, it.FD)
	}
	require.Equal(t, []int{7, 3}, order)
	require.Zero(t, h.Len())
}
