package client

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/ValentinKolb/sedarpc/rpc/transport"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/reactor"
)

// NewRPCClient creates a new RPC client
// The function takes a config and a serializer as parameters. Connections
// are opened lazily on the first call to an endpoint and reused afterwards.
func NewRPCClient(config common.ClientConfig, ser serializer.IRPCSerializer) (*RPCClient, error) {
	if len(config.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	endpoints := make([]common.Endpoint, 0, len(config.Endpoints))
	for _, s := range config.Endpoints {
		ep, err := common.ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}

	t, err := transport.NewClientTransport(reactor.Options{
		Name:   "client",
		Config: &config.Transport,
		Codec:  serializer.NewCodec(ser),
	})
	if err != nil {
		return nil, err
	}

	Logger.Debugf("Created RPC client for %d endpoints", len(endpoints))
	return &RPCClient{
		config:    config,
		endpoints: endpoints,
		transport: t,
		timeout:   time.Duration(config.TimeoutSecond) * time.Second,
	}, nil
}

// RPCClient sends requests to a set of equivalent endpoints, picking them
// in round-robin order. It is safe for concurrent use.
type RPCClient struct {
	config    common.ClientConfig
	endpoints []common.Endpoint
	transport transport.IRPCClientTransport
	timeout   time.Duration
	next      atomic.Uint64
}

// --------------------------------------------------------------------------
// Calls
// --------------------------------------------------------------------------

// Go sends msg with the payload of out to the next endpoint and returns the
// pending call without waiting. Endpoints that fail to dial are skipped. A
// connect that fails after dialing fails the call with a connection
// failure, a failed send is not retried.
func (c *RPCClient) Go(msg *common.Message, out conn.Outbound) (*conn.PendingCall, error) {
	var lastErr error
	for range c.endpoints {
		ep := c.endpoints[(c.next.Add(1)-1)%uint64(len(c.endpoints))]
		cn, err := c.transport.Connect(ep)
		if err != nil {
			Logger.Debugf("Skipping %s: %v", ep, err)
			lastErr = err
			continue
		}
		call, err := cn.SendRequest(msg, out)
		cn.Release()
		if err != nil {
			return nil, fmt.Errorf("send to %s: %w", ep, err)
		}
		return call, nil
	}
	return nil, lastErr
}

// CallWith sends msg and waits for the response. Without a deadline on
// ctx the configured timeout applies.
func (c *RPCClient) CallWith(ctx context.Context, msg *common.Message, out conn.Outbound) (*Response, error) {
	call, err := c.Go(msg, out)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, call)
}

func (c *RPCClient) wait(ctx context.Context, call *conn.PendingCall) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return toResponse(call.Wait(ctx))
}

// Call sends msg with an optional attachment and waits for the response
func (c *RPCClient) Call(ctx context.Context, msg *common.Message, attachment []byte) (*Response, error) {
	return c.CallWith(ctx, msg, conn.Outbound{Attachment: attachment})
}

// Ping checks that an endpoint answers
func (c *RPCClient) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, common.NewPingRequest(), nil)
	return err
}

// Echo sends value and attachment and returns what came back
func (c *RPCClient) Echo(ctx context.Context, value, attachment []byte) (*Response, error) {
	return c.Call(ctx, common.NewEchoRequest(value), attachment)
}

// Custom calls the server method with the given name
func (c *RPCClient) Custom(ctx context.Context, method string, value []byte) ([]byte, error) {
	resp, err := c.Call(ctx, common.NewCustomRequest(method, value), nil)
	if err != nil {
		return nil, err
	}
	return resp.Message.Value, nil
}

// SendFile sends msg followed by the content of the file at path
func (c *RPCClient) SendFile(ctx context.Context, msg *common.Message, path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	// the file stays open until every block went out, which may be after
	// the call timed out
	var closeOnce sync.Once
	closeFile := func(error) { closeOnce.Do(func() { _ = f.Close() }) }

	call, err := c.Go(msg, conn.Outbound{File: f, FileLen: info.Size(), OnSent: closeFile})
	if err != nil {
		// nothing is queued anymore
		closeFile(nil)
		return nil, err
	}
	return c.wait(ctx, call)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// Endpoints returns the configured endpoints
func (c *RPCClient) Endpoints() []common.Endpoint {
	return append([]common.Endpoint(nil), c.endpoints...)
}

// Transport returns the underlying transport
func (c *RPCClient) Transport() transport.IRPCClientTransport { return c.transport }

// Close tears down all connections, calls still waiting fail
func (c *RPCClient) Close() error {
	return c.transport.Close()
}
