package conn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/sock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/conn")

var (
	ErrClosed       = errors.New("connection closed")
	ErrDuplicateID  = errors.New("duplicate request id")
	ErrSendFailed   = errors.New("send failed")
	ErrTooLarge     = errors.New("payload exceeds header field")
	ErrDrainLimit   = errors.New("declared length exceeds drain limit")
	ErrBadHeader    = errors.New("unparsable header")
	ErrNotConnected = errors.New("connect failed")
)

// Phase is the inbound framing phase of a connection
type Phase int32

const (
	PhaseHeader Phase = iota
	PhaseMessage
	PhaseAttachment
	PhaseFile
	PhaseDrain
)

func (p Phase) String() string {
	switch p {
	case PhaseHeader:
		return "header"
	case PhaseMessage:
		return "message"
	case PhaseAttachment:
		return "attachment"
	case PhaseFile:
		return "file"
	case PhaseDrain:
		return "drain"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Connection is the per-socket state machine. It owns a send and a receive
// queue of vectors, the inbound framing phase and the table of calls waiting
// for a response.
//
// A new connection holds one reference, the owner reference, which is given
// up by Close. Every other user brackets its use with Acquire and Release.
// Close shuts the socket down and fails pending calls at once. The release
// that drops the count to zero tears the connection down: both queues are
// flushed and the descriptor is closed.
type Connection struct {
	fd   int
	peer common.Endpoint
	env  *Env

	sendQ *buffer.Queue
	recvQ *buffer.Queue
	phase atomic.Int32

	refs     atomic.Int32
	cleaning atomic.Bool
	torn     atomic.Bool

	writable   atomic.Bool
	connecting atomic.Bool

	lastActivity atomic.Int64
	nextID       atomic.Uint64

	// pendingMu guards pendingClosed against concurrent adds; it is never
	// taken together with a queue lock
	pendingMu     sync.RWMutex
	pendingClosed bool
	pending       *xsync.MapOf[uint64, *PendingCall]
}

// New wraps a connected (or connecting) non-blocking socket. The socket is
// owned by the connection from now on.
func New(fd int, peer common.Endpoint, env *Env, connecting bool) *Connection {
	c := &Connection{
		fd:      fd,
		peer:    peer,
		env:     env,
		sendQ:   buffer.NewQueue(),
		recvQ:   buffer.NewQueue(),
		pending: xsync.NewMapOf[uint64, *PendingCall](),
	}
	c.refs.Store(1)
	c.connecting.Store(connecting)
	c.writable.Store(!connecting)
	c.touch()
	return c
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (c *Connection) FD() int                         { return c.fd }
func (c *Connection) Peer() common.Endpoint           { return c.peer }
func (c *Connection) Phase() Phase                    { return Phase(c.phase.Load()) }
func (c *Connection) Refs() int32                     { return c.refs.Load() }
func (c *Connection) Cleaning() bool                  { return c.cleaning.Load() }
func (c *Connection) Connecting() bool                { return c.connecting.Load() }
func (c *Connection) Writable() bool                  { return c.writable.Load() }
func (c *Connection) PendingCount() int               { return c.pending.Size() }
func (c *Connection) SendQueueLen() int               { return c.sendQ.Len() }
func (c *Connection) Config() *common.TransportConfig { return c.env.Config }

// LastActivity returns the time of the last transfer or post
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Idle reports whether nobody but the owner references the connection and
// it has no outstanding work, so it can be evicted without losing anything
func (c *Connection) Idle() bool {
	return c.refs.Load() == 1 && c.pending.Size() == 0 && c.sendQ.Len() == 0 && c.Phase() == PhaseHeader
}

func (c *Connection) String() string {
	return fmt.Sprintf("conn(fd=%d, peer=%s)", c.fd, c.peer)
}

// --------------------------------------------------------------------------
// Reference counting
// --------------------------------------------------------------------------

// Acquire takes a reference. It fails once the count dropped to zero.
func (c *Connection) Acquire() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last release performs the teardown.
func (c *Connection) Release() {
	n := c.refs.Add(-1)
	switch {
	case n == 0:
		c.teardown()
	case n < 0:
		panic(fmt.Sprintf("conn: release of %s below zero", c))
	}
}

// Close breaks the connection and gives up the owner reference. The socket
// is shut down and pending calls fail right away, while releasing the
// descriptor and the queues is deferred until every other holder released.
// Close is idempotent.
func (c *Connection) Close() {
	if !c.cleaning.CompareAndSwap(false, true) {
		return
	}
	if err := sock.Shutdown(c.fd); err != nil {
		Logger.Debugf("%s: shutdown: %v", c, err)
	}
	c.failPendingCalls()
	c.Release()
}

// fail breaks the connection: it is unregistered and closed
func (c *Connection) fail(reason error) {
	if c.cleaning.Load() {
		return
	}
	Logger.Infof("%s: closing: %v", c, reason)
	if c.env.Unregister != nil {
		c.env.Unregister(c)
	}
	c.Close()
}

func (c *Connection) teardown() {
	if !c.torn.CompareAndSwap(false, true) {
		return
	}
	c.sendQ.Close()
	c.recvQ.Close()
	c.failPendingCalls()
	if c.env.OnTeardown != nil {
		c.env.OnTeardown(c)
	}
	if err := sock.Close(c.fd); err != nil {
		Logger.Warningf("%s: close socket: %v", c, err)
	}
	Logger.Debugf("%s: torn down", c)
}

// --------------------------------------------------------------------------
// Reactor hooks
// --------------------------------------------------------------------------

// OnWritable is called by the reactor for every writability event. The
// first event of a connecting socket completes (or fails) the connect.
func (c *Connection) OnWritable() {
	if c.connecting.Load() {
		if err := sock.SocketError(c.fd); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrNotConnected, err))
			return
		}
		c.connecting.Store(false)
		Logger.Debugf("%s: connected", c)
	}
	c.writable.Store(true)
	c.SendProgress()
}

// OnReadable is called by the reactor for every readability event
func (c *Connection) OnReadable() {
	c.RecvProgress()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) setPhase(p Phase) {
	c.phase.Store(int32(p))
}
