// Package common provides core data structures and utilities shared across
// the RPC transport, server and client. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - The application envelope exchanged between client and server
//   - Configuration structures for the transport engine, server and client
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Message: Envelope for all RPC communication. It carries the request
//     identifier used by the transport to correlate responses, the message
//     type and a small set of typed fields. Includes factory methods for
//     creating the built-in request and response messages.
//
//   - MessageType: Enumeration of all supported operation types, split into
//     response types (success, error) and request types (ping, echo, custom).
//
//   - Endpoint: Immutable peer identity (host, port and optional location and
//     service tags) used as registry key by the transport.
//
//   - TransportConfig: Every tunable of the transport engine (socket buffer
//     sizes, block size, limits for inbound messages, worker pool size). It is
//     constructed once and passed by reference into the reactor.
//
//   - ServerConfig / ClientConfig: Configuration for the server and client
//     components, each embedding a TransportConfig.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
