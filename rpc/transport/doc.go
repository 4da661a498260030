// Package transport defines the client and server contracts of the
// asynchronous RPC transport and constructors for the epoll based
// implementation in the reactor package.
//
// The package tree is layered bottom-up:
//
//   - wire: the fixed ASCII frame header and the Request/Response union
//     with the injected Codec contract.
//   - buffer: transfer vectors, pooled byte buffers and the FIFO queue
//     that hands each vector to exactly one completion.
//   - sock: non-blocking socket helpers and the edge-triggered selector.
//   - conn: the per-socket state machine, inbound framing and the table of
//     pending calls.
//   - registry: connections indexed by descriptor and peer endpoint, with
//     eviction of idle connections.
//   - reactor: readiness polling, worker pools and the listening server.
//
// Key Components:
//
//   - IRPCServerTransport: a listening transport, implemented by
//     reactor.ServerReactor.
//
//   - IRPCClientTransport: a transport for outbound connections with reuse
//     per endpoint, implemented by reactor.Reactor.
//
// Note: calling Close on a *reactor.ServerReactor stored in an interface
// value closes the listening socket too.
package transport
