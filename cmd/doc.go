// Package cmd implements the command-line interface of sedarpc. It provides
// a hierarchical command structure for running a server and for calling it
// as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server with the built-in ping, echo and custom handlers
//   - call: Client commands (ping, echo, custom) and the bench load generator
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable SEDARPC_<FLAG>
// (e.g. SEDARPC_TRANSPORT_WORKERS=8), .env and .env.local are loaded first.
//
// See sedarpc -help for a list of all commands.
package cmd
