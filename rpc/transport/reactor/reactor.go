package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/registry"
	"github.com/ValentinKolb/sedarpc/rpc/transport/sock"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/someonegg/gox/syncx"
)

var Logger = logger.GetLogger("transport/reactor")

var ErrClosed = errors.New("reactor closed")

// Options configures a reactor
type Options struct {
	// Name labels log lines and metrics
	Name string
	// Config is required and must not change after the reactor started
	Config *common.TransportConfig
	// Codec is required
	Codec wire.Codec
	// Handler receives inbound requests, nil drops them
	Handler conn.Handler
	// Files stores inbound file payloads, nil drains them
	Files conn.FileSink
	// Metrics is created if nil
	Metrics *Metrics
}

// Reactor drives non-blocking I/O for all of its connections. Readiness
// is split into two domains, sendable and receivable, each with its own
// edge-triggered selector polled by one goroutine. Pollers only forward
// descriptors to the worker pool of their direction; the workers perform
// the actual transfers.
type Reactor struct {
	name     string
	cfg      *common.TransportConfig
	env      *conn.Env
	registry *registry.Registry
	metrics  *Metrics

	sendSel  *sock.Selector
	recvSel  *sock.Selector
	sendPool *pool
	recvPool *pool

	// set by ServerReactor before start
	listenFD int
	accept   func()

	connectMu sync.Mutex
	closing   atomic.Bool
	selClosed atomic.Bool
	stopD     syncx.DoneChan
	pollers   sync.WaitGroup
	closeOnce sync.Once
}

// New creates and starts a reactor
func New(opts Options) (*Reactor, error) {
	r, err := newReactor(opts)
	if err != nil {
		return nil, err
	}
	r.start()
	return r, nil
}

func newReactor(opts Options) (*Reactor, error) {
	if opts.Config == nil || opts.Codec == nil {
		return nil, errors.New("reactor: config and codec are required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("reactor: %w", err)
	}
	if opts.Name == "" {
		opts.Name = "reactor"
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(opts.Name)
	}

	sendSel, err := sock.NewSelector(opts.Config.MaxEvents)
	if err != nil {
		return nil, err
	}
	recvSel, err := sock.NewSelector(opts.Config.MaxEvents)
	if err != nil {
		sendSel.Close()
		return nil, err
	}

	r := &Reactor{
		name:     opts.Name,
		cfg:      opts.Config,
		registry: registry.New(),
		metrics:  opts.Metrics,
		sendSel:  sendSel,
		recvSel:  recvSel,
		listenFD: -1,
		stopD:    syncx.NewDoneChan(),
	}
	r.env = &conn.Env{
		Config:     opts.Config,
		Codec:      opts.Codec,
		Handler:    opts.Handler,
		Files:      opts.Files,
		Stats:      opts.Metrics,
		Unregister: r.unregister,
		OnTeardown: r.onTeardown,
	}
	r.sendPool = newPool(r.name+"/send", opts.Config.Workers, opts.Config.WorkerQueueSize, r.onSendReady)
	r.recvPool = newPool(r.name+"/recv", opts.Config.Workers, opts.Config.WorkerQueueSize, r.onRecvReady)
	return r, nil
}

func (r *Reactor) start() {
	r.sendPool.start()
	r.recvPool.start()
	r.pollers.Add(2)
	go r.poll("send", r.sendSel, r.sendPool)
	go r.poll("recv", r.recvSel, r.recvPool)
	Logger.Infof("%s: started with %d workers per direction", r.name, len(r.sendPool.rings))
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// Connect returns the connection to ep, dialing a new one if none is
// registered. The returned connection is acquired and must be released.
// A new connection is usable right away; requests sent before the
// handshake completed are transferred once the socket becomes writable.
func (r *Reactor) Connect(ep common.Endpoint) (*conn.Connection, error) {
	if r.closing.Load() {
		return nil, ErrClosed
	}
	if c, ok := r.lookup(ep); ok {
		return c, nil
	}

	r.connectMu.Lock()
	defer r.connectMu.Unlock()
	if c, ok := r.lookup(ep); ok {
		return c, nil
	}

	fd, inProgress, err := sock.Dial(ep, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", ep, err)
	}
	c := conn.New(fd, ep, r.env, inProgress)
	c.Acquire()
	if err := r.attach(c); err != nil {
		c.Release()
		return nil, fmt.Errorf("connect %s: %w", ep, err)
	}
	Logger.Infof("%s: connecting to %s (fd %d)", r.name, ep, fd)
	return c, nil
}

// Disconnect unregisters and closes the connection to ep
func (r *Reactor) Disconnect(ep common.Endpoint) bool {
	c, ok := r.registry.FindEndpoint(ep)
	if !ok {
		return false
	}
	defer c.Release()
	return r.registry.RemoveConn(c)
}

// Find returns the connection registered under fd, acquired
func (r *Reactor) Find(fd int) (*conn.Connection, bool) {
	return r.registry.Find(fd)
}

// Len returns the number of registered connections
func (r *Reactor) Len() int { return r.registry.Len() }

func (r *Reactor) Metrics() *Metrics { return r.metrics }

func (r *Reactor) Config() *common.TransportConfig { return r.cfg }

func (r *Reactor) String() string { return r.name }

// lookup finds a live connection to ep
func (r *Reactor) lookup(ep common.Endpoint) (*conn.Connection, bool) {
	c, ok := r.registry.FindEndpoint(ep)
	if !ok {
		return nil, false
	}
	if c.Cleaning() {
		c.Release()
		return nil, false
	}
	return c, true
}

// attach arms a new connection and registers it with the registry and both
// selectors. On failure the connection is closed.
func (r *Reactor) attach(c *conn.Connection) error {
	r.metrics.connectionOpened()
	fd := c.FD()

	// the first header vector must be queued before the first edge
	c.StartReceive()

	if err := r.registry.Insert(c.Peer(), fd, c); err != nil {
		c.Close()
		return err
	}
	if err := r.recvSel.Add(fd, sock.EventRead); err != nil {
		r.registry.RemoveConn(c)
		return err
	}
	if err := r.sendSel.Add(fd, sock.EventWrite); err != nil {
		r.registry.RemoveConn(c)
		return err
	}

	// bytes that arrived before the registration produced no edge
	if !r.recvPool.tryDispatch(fd) && c.Acquire() {
		c.RecvProgress()
		c.Release()
	}
	return nil
}

func (r *Reactor) unregister(c *conn.Connection) {
	r.registry.RemoveConn(c)
}

func (r *Reactor) onTeardown(c *conn.Connection) {
	// a connection closed directly must not stay reachable under its fd
	r.registry.RemoveConn(c)
	if !r.selClosed.Load() {
		if err := r.sendSel.Delete(c.FD()); err != nil {
			Logger.Warningf("%s: %v", r.name, err)
		}
		if err := r.recvSel.Delete(c.FD()); err != nil {
			Logger.Warningf("%s: %v", r.name, err)
		}
	}
	r.metrics.connectionClosed()
	Logger.Debugf("%s: %s closed", r.name, c)
}

// --------------------------------------------------------------------------
// Polling and workers
// --------------------------------------------------------------------------

// poll forwards ready descriptors of one selector to its pool until the
// reactor closes
func (r *Reactor) poll(name string, sel *sock.Selector, p *pool) {
	defer r.pollers.Done()
	handle := func(fd int, _ uint32) { p.dispatch(fd) }
	for {
		woken, err := sel.Wait(-1, handle)
		if r.stopD.R().Done() {
			Logger.Debugf("%s: %s poller stopped", r.name, name)
			return
		}
		if err != nil {
			Logger.Errorf("%s: %s poller: %v", r.name, name, err)
			continue
		}
		if woken {
			Logger.Debugf("%s: %s poller woken", r.name, name)
		}
	}
}

func (r *Reactor) onSendReady(fd int) {
	c, ok := r.registry.Find(fd)
	if !ok {
		return
	}
	defer c.Release()
	c.OnWritable()
}

func (r *Reactor) onRecvReady(fd int) {
	if fd == r.listenFD {
		r.accept()
		return
	}
	c, ok := r.registry.Find(fd)
	if !ok {
		return
	}
	defer c.Release()
	c.OnReadable()
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops the pollers, then the workers, then closes every connection
// and finally the selectors. Pending calls fail with a connection failure,
// connections still referenced elsewhere are shut down right away and
// released by their last holder.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		r.closing.Store(true)
		r.stopD.SetDone()
		if err := r.sendSel.Wake(); err != nil {
			Logger.Warningf("%s: %v", r.name, err)
		}
		if err := r.recvSel.Wake(); err != nil {
			Logger.Warningf("%s: %v", r.name, err)
		}
		r.pollers.Wait()

		r.sendPool.stop()
		r.recvPool.stop()

		n := r.registry.RemoveAll()

		r.selClosed.Store(true)
		r.sendSel.Close()
		r.recvSel.Close()
		r.metrics.stop()
		Logger.Infof("%s: closed, %d connections dropped", r.name, n)
	})
	return nil
}
