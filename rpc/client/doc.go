// Package client implements the RPC client on top of the asynchronous
// transport.
//
// The package focuses on:
//   - Blocking calls with a timeout and asynchronous calls returning a
//     conn.PendingCall
//   - Round-robin distribution over a set of equivalent endpoints
//   - Conversion of error responses into Go errors
//
// Key Components:
//
//   - NewRPCClient: Factory function that creates a client from a
//     common.ClientConfig and a serializer. One transport connection per
//     endpoint is opened on first use and shared by all calls.
//
//   - RPCClient.Call / CallWith: send a request with an optional attachment
//     (or file payload) and wait for the response.
//
//   - RPCClient.Go: send without waiting; the returned pending call can be
//     waited on or given a completion hook with OnDone.
//
// Usage Example:
//
//	c, err := client.NewRPCClient(common.ClientConfig{
//	  Endpoints:     []string{"localhost:7070"},
//	  TimeoutSecond: 5,
//	  Transport:     common.DefaultTransportConfig(),
//	}, serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Echo(ctx, []byte("hello"), attachment)
//
// Errors:
//
// A call fails with conn.ErrConnectionFailure if the connection broke,
// conn.ErrTimedOut if the context ended first and ErrRemote if the server
// answered with an error response. In the last case the response is
// returned as well.
package client
