package transport

import (
	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/reactor"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IRPCServerTransport is a listening transport. Requests are delivered to
// the conn.Handler it was created with.
type IRPCServerTransport interface {
	// Endpoint returns the endpoint the transport is bound to
	Endpoint() common.Endpoint
	// Len returns the number of accepted connections
	Len() int
	// Metrics returns the transport counters
	Metrics() *reactor.Metrics
	// Close stops accepting, tears down every connection and fails all
	// pending calls
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport opens and reuses outbound connections
type IRPCClientTransport interface {
	// Connect returns the connection to ep, dialing if none exists. The
	// connection is acquired and has to be released by the caller.
	Connect(ep common.Endpoint) (*conn.Connection, error)
	// Disconnect closes the connection to ep
	Disconnect(ep common.Endpoint) bool
	// Len returns the number of open connections
	Len() int
	// Metrics returns the transport counters
	Metrics() *reactor.Metrics
	// Close tears down every connection and fails all pending calls
	Close() error
}

var (
	_ IRPCServerTransport = (*reactor.ServerReactor)(nil)
	_ IRPCClientTransport = (*reactor.Reactor)(nil)
)

// NewServerTransport listens on ep
func NewServerTransport(ep common.Endpoint, opts reactor.Options) (IRPCServerTransport, error) {
	return reactor.Listen(ep, opts)
}

// NewClientTransport creates a transport for outbound connections
func NewClientTransport(opts reactor.Options) (IRPCClientTransport, error) {
	return reactor.New(opts)
}
