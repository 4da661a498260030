// Package reactor drives the connections of one process role.
//
// A Reactor has two edge-triggered selectors, one for writability and one
// for readability, each polled by a single goroutine. A poller does nothing
// but hand ready descriptors to the worker pool of its direction; worker
// fd%N of the pool acquires the connection from the registry and calls
// OnWritable or OnReadable on it. Request handlers and pending call hooks
// therefore run on receive workers and must not block.
//
// ServerReactor adds a listening socket. Its readiness is handled by a
// receive worker that accepts until the backlog is empty; when the process
// runs out of descriptors idle connections are evicted to make room.
//
// Shutdown wakes both pollers through their self-pipes, stops the workers
// with a sentinel on every worker queue, closes all connections and only
// then the selectors.
package reactor
