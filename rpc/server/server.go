package server

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/ValentinKolb/sedarpc/rpc/transport"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/reactor"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/someonegg/gox/syncx"
)

var Logger = logger.GetLogger("rpc/server")

// NewRPCServer creates a new RPC server
// It takes a config and serializer as parameters. Ping, echo and custom
// requests are handled out of the box, custom methods are added with
// HandleMethod.
//
// Usage:
//
//	s := server.NewRPCServer(*config, serializer.NewBinarySerializer())
//	s.HandleMethod("upper", server.HandlerFunc(func(req *server.Request) *server.Reply {
//		return server.Ok(bytes.ToUpper(req.Message.Value))
//	}))
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, ser serializer.IRPCSerializer) *RPCServer {
	s := &RPCServer{
		config:   config,
		codec:    serializer.NewCodec(ser),
		handlers: xsync.NewMapOf[common.MessageType, IRPCRequestHandler](),
		methods:  xsync.NewMapOf[string, IRPCRequestHandler](),
		stage:    newStage(config.StageWorkers),
		stats:    metrics.NewSet(),
		stopD:    syncx.NewDoneChan(),
	}
	s.handlers.Store(common.MsgTPing, NewPingHandler())
	s.handlers.Store(common.MsgTEcho, NewEchoHandler())
	s.handlers.Store(common.MsgTCustom, methodRouter{s: s})

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())
	return s
}

// RPCServer dispatches decoded requests to handlers keyed by message type.
// The transport hands every complete request to the stage; handlers run on
// stage workers and answer through the connection the request came from.
type RPCServer struct {
	config   common.ServerConfig
	codec    *serializer.Codec
	handlers *xsync.MapOf[common.MessageType, IRPCRequestHandler]
	methods  *xsync.MapOf[string, IRPCRequestHandler]
	stage    *stage
	stats    *metrics.Set

	mu        sync.Mutex
	transport transport.IRPCServerTransport
	stopD     syncx.DoneChan
	closeOnce sync.Once
	closeErr  error
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// Handle registers h for all requests of type t, replacing the previous
// handler. Custom requests are routed by method, see HandleMethod.
func (s *RPCServer) Handle(t common.MessageType, h IRPCRequestHandler) {
	s.handlers.Store(t, h)
}

// HandleMethod registers h for custom requests with the given method name
func (s *RPCServer) HandleMethod(method string, h IRPCRequestHandler) {
	s.methods.Store(method, h)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start binds the configured endpoint and starts accepting connections.
// It returns once the server is ready.
func (s *RPCServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		return fmt.Errorf("server already started")
	}

	ep, err := common.ParseEndpoint(s.config.Endpoint)
	if err != nil {
		return err
	}

	opts := reactor.Options{
		Name:    "server",
		Config:  &s.config.Transport,
		Codec:   s.codec,
		Handler: conn.HandlerFunc(s.onRequest),
	}
	if s.config.FileDir != "" {
		files, err := newFileStore(s.config.FileDir)
		if err != nil {
			return err
		}
		opts.Files = files
	}

	t, err := transport.NewServerTransport(ep, opts)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ep, err)
	}
	s.transport = t
	Logger.Infof("Serving on %s with %d stage workers", t.Endpoint(), s.stage.workers())

	if s.config.StatsIntervalSecond > 0 {
		go s.logStats(time.Duration(s.config.StatsIntervalSecond) * time.Second)
	}
	return nil
}

// Serve starts the server and blocks until ctx is done, then closes it
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.stopD:
	}
	return s.Close()
}

// Close stops the transport, fails pending work on every connection and
// waits for running handlers
func (s *RPCServer) Close() error {
	s.closeOnce.Do(func() {
		s.stopD.SetDone()
		s.mu.Lock()
		t := s.transport
		s.mu.Unlock()
		if t != nil {
			s.closeErr = t.Close()
		}
		// no receive worker is left to submit
		s.stage.close()
		Logger.Infof("Server stopped after %d requests", s.stage.handled.Load())
	})
	return s.closeErr
}

// Endpoint returns the bound endpoint, the zero value before Start
func (s *RPCServer) Endpoint() common.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return common.Endpoint{}
	}
	return s.transport.Endpoint()
}

// Transport returns the running transport, nil before Start
func (s *RPCServer) Transport() transport.IRPCServerTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// WritePrometheus writes the server and transport metrics
func (s *RPCServer) WritePrometheus(w io.Writer) {
	s.stats.WritePrometheus(w)
	if t := s.Transport(); t != nil {
		t.Metrics().WritePrometheus(w)
	}
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

// onRequest runs on a receive worker and only hands the request to the stage
func (s *RPCServer) onRequest(c *conn.Connection, in *conn.Inbound) {
	id := in.Message.RequestID()
	msg := serializer.Message(in.Message)
	if msg == nil {
		_ = c.SendError(id, "unsupported payload")
		return
	}
	if !c.Acquire() {
		return
	}

	req := &Request{
		Message:    msg,
		Attachment: in.Attachment,
		File:       in.File,
		FileLen:    in.Header.FileLen,
		Peer:       c.Peer(),
	}
	submitted := s.stage.submit(func() {
		defer c.Release()
		s.respond(c, id, req)
	})
	if !submitted {
		c.Release()
	}
}

// respond runs the handler and sends its reply
func (s *RPCServer) respond(c *conn.Connection, id uint64, req *Request) {
	start := time.Now()
	reply := s.dispatch(req)
	s.stats.GetOrCreateHistogram(
		fmt.Sprintf(`sedarpc_server_handle_duration_seconds{type=%q}`, req.Message.MsgType),
	).UpdateDuration(start)
	Logger.Debugf("Processed %s request %d from %s took %s", req.Message.MsgType, id, req.Peer, time.Since(start))

	if reply.Message.MsgType == common.MsgTError {
		s.stats.GetOrCreateCounter(
			fmt.Sprintf(`sedarpc_server_errors_total{type=%q}`, req.Message.MsgType),
		).Inc()
	}

	out := conn.Outbound{Attachment: reply.Attachment}
	if reply.File != nil {
		f := reply.File
		out.File = f
		out.FileLen = reply.FileLen
		out.OnSent = func(error) { _ = f.Close() }
	}
	if err := c.SendResponse(id, reply.Message, out); err != nil {
		Logger.Warningf("Failed to send response %d to %s: %v", id, req.Peer, err)
		if reply.File != nil {
			_ = reply.File.Close()
		}
	}
}

// dispatch looks up the handler for the request type. A missing handler, a
// panicking handler or an invalid reply is answered with an error.
func (s *RPCServer) dispatch(req *Request) (reply *Reply) {
	h, ok := s.handlers.Load(req.Message.MsgType)
	if !ok {
		return Fail("unsupported message type: %s", req.Message.MsgType)
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler for %s panicked: %v", req.Message.MsgType, r)
			reply = Fail("internal error")
		}
	}()

	reply = h.Handle(req)
	switch {
	case reply == nil || reply.Message == nil:
		return Fail("handler for %s returned no reply", req.Message.MsgType)
	case !reply.Message.IsResponse():
		if reply.File != nil {
			_ = reply.File.Close()
		}
		return Fail("handler for %s replied with a %s message", req.Message.MsgType, reply.Message.MsgType)
	}
	return reply
}

func (s *RPCServer) logStats(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopD:
			return
		case <-ticker.C:
			if t := s.Transport(); t != nil {
				Logger.Infof("Stats: %s, %d handlers running", t.Metrics().Snapshot(), s.stage.running.Load())
			}
		}
	}
}
