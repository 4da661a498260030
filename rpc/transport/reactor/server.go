package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/sock"
	"golang.org/x/sys/unix"
)

const (
	// maxAcceptFailures consecutive unexpected accept errors end one
	// accept round
	maxAcceptFailures = 16
	// acceptRetryDelay schedules another accept round when the backlog
	// could not be emptied
	acceptRetryDelay = 50 * time.Millisecond
)

// ServerReactor is a Reactor that additionally owns a listening socket and
// adopts every accepted connection. Accepting runs on the receive worker of
// the listening descriptor, never on a poller.
type ServerReactor struct {
	*Reactor
	local     common.Endpoint
	closeOnce sync.Once
}

// Listen binds ep and starts a server reactor. Port 0 picks a free port,
// see Endpoint for the result.
func Listen(ep common.Endpoint, opts Options) (*ServerReactor, error) {
	if opts.Name == "" {
		opts.Name = "server"
	}
	r, err := newReactor(opts)
	if err != nil {
		return nil, err
	}

	fd, err := sock.Listen(ep, r.cfg)
	if err != nil {
		r.sendSel.Close()
		r.recvSel.Close()
		r.metrics.stop()
		return nil, err
	}
	local := ep
	if bound, err := sock.LocalEndpoint(fd); err == nil {
		local = ep.WithPort(bound.Port)
	}

	s := &ServerReactor{Reactor: r, local: local}
	r.listenFD = fd
	r.accept = s.acceptAll
	r.start()

	if err := r.recvSel.Add(fd, unix.EPOLLIN); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("listen %s: %w", ep, err)
	}
	Logger.Infof("%s: listening on %s", r.name, local)
	return s, nil
}

// Endpoint returns the bound local endpoint
func (s *ServerReactor) Endpoint() common.Endpoint { return s.local }

// Close stops accepting and shuts the reactor down
func (s *ServerReactor) Close() error {
	err := s.Reactor.Close()
	s.closeOnce.Do(func() {
		if cerr := sock.Close(s.listenFD); cerr != nil {
			Logger.Warningf("%s: close listener: %v", s.name, cerr)
		}
	})
	return err
}

// acceptAll accepts until the backlog is empty. When descriptors are
// exhausted idle connections are evicted before retrying; other errors are
// skipped.
func (s *ServerReactor) acceptAll() {
	failures := 0
	for !s.closing.Load() {
		fd, sa, err := sock.Accept(s.listenFD)
		switch {
		case err == nil:
			failures = 0
			s.adopt(fd, sa)

		case sock.WouldBlock(err):
			return

		case sock.DescriptorsExhausted(err):
			s.metrics.acceptFailed()
			n := s.registry.RemoveInactive(s.cfg.EvictBatch)
			s.metrics.connectionsEvicted(n)
			Logger.Warningf("%s: accept: %v, evicted %d idle connections", s.name, err, n)
			if n == 0 {
				s.retryAccept()
				return
			}

		default:
			s.metrics.acceptFailed()
			Logger.Warningf("%s: accept: %v", s.name, err)
			if failures++; failures >= maxAcceptFailures {
				s.retryAccept()
				return
			}
		}
	}
}

// retryAccept schedules another accept round. Readiness is edge-triggered,
// so connections left in the backlog would otherwise wait for the next one.
func (s *ServerReactor) retryAccept() {
	time.AfterFunc(acceptRetryDelay, func() {
		if !s.closing.Load() {
			s.recvPool.dispatch(s.listenFD)
		}
	})
}

func (s *ServerReactor) adopt(fd int, sa unix.Sockaddr) {
	peer := sock.EndpointOf(sa)
	c := conn.New(fd, peer, s.env, false)
	if err := s.attach(c); err != nil {
		Logger.Warningf("%s: adopt %s: %v", s.name, peer, err)
		return
	}
	Logger.Debugf("%s: accepted %s (fd %d)", s.name, peer, fd)
}
