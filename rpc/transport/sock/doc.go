// Package sock contains stateless socket helpers for the transport: creating
// and configuring non-blocking TCP sockets, connect/listen/accept, error
// classification and poll based blocking helpers for handshakes.
//
// It also provides Selector, the edge-triggered readiness notifier used by
// the reactor's poller goroutines. A Selector owns a self-pipe so shutdown
// can wake a poller that is blocked in Wait.
//
// Linux only.
package sock
