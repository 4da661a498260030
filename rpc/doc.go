// Package rpc provides an asynchronous remote procedure call framework for
// Linux. Requests and responses are multiplexed over persistent TCP
// connections; each frame carries a serialized message, an optional
// attachment and an optional file payload.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message envelope, endpoints, configuration structures,
//     and logging.
//
//   - transport: The epoll driven transport engine (framing, connections,
//     registry, reactor) and the client/server transport interfaces.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     and the codec adapting a serializer to the transport.
//
//   - client: RPC client with blocking and asynchronous calls over a set of
//     endpoints.
//
//   - server: RPC server dispatching requests to handlers on a bounded stage
//     of worker goroutines.
package rpc
