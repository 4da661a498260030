// Package server implements the RPC server on top of the asynchronous
// transport.
//
// The transport's receive workers only decode and hand over; every request
// is executed on a stage worker. The stage has a fixed number of slots, so
// a burst of slow requests stalls reading from the sockets instead of
// spawning unbounded goroutines.
//
// Key Components:
//
//   - IRPCRequestHandler: Interface for request handlers. A handler gets the
//     decoded message with its attachment and the path of a stored file
//     payload, and returns the reply.
//
//   - NewRPCServer: Factory function creating a server with handlers for
//     ping, echo and custom requests. Custom requests are routed by method
//     name to handlers registered with HandleMethod.
//
// Usage Example:
//
//	s := server.NewRPCServer(common.ServerConfig{
//	  Endpoint:     "0.0.0.0:7070",
//	  StageWorkers: 64,
//	  FileDir:      "/var/lib/sedarpc/files",
//	  Transport:    common.DefaultTransportConfig(),
//	}, serializer.NewBinarySerializer())
//
//	s.HandleMethod("upper", server.HandlerFunc(func(req *server.Request) *server.Reply {
//	  return server.Ok(bytes.ToUpper(req.Message.Value))
//	}))
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Inbound file payloads are written to FileDir and kept there; without a
// FileDir they are drained and handlers only see their length.
//
// Thread Safety:
//
//	Handlers are called concurrently from up to StageWorkers goroutines.
//	Handle and HandleMethod may be called at any time.
package server
