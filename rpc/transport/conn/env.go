package conn

import (
	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
)

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// Handler receives complete inbound requests. It is called on a receive
// worker, so it has to hand the request off instead of doing real work.
type Handler interface {
	HandleRequest(c *Connection, in *Inbound)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(c *Connection, in *Inbound)

func (f HandlerFunc) HandleRequest(c *Connection, in *Inbound) { f(c, in) }

// FileTarget receives the file payload of an inbound message. *os.File
// implements it.
type FileTarget interface {
	WriteAt(p []byte, off int64) (int, error)
	Close() error
	Name() string
}

// FileSink decides where inbound file payloads go
type FileSink interface {
	// Open returns the target for a file payload of size bytes. A nil
	// target (or an error) makes the connection drain the file instead.
	Open(c *Connection, msg wire.Decoded, size int64) (FileTarget, error)

	// Discard is called for a target whose transfer did not complete
	Discard(t FileTarget)
}

// Stats collects transport counters. Implementations must be safe for
// concurrent use.
type Stats interface {
	BytesSent(n int)
	BytesReceived(n int)
	VectorCompleted(send bool, state buffer.State)
	MessageReceived(tag wire.Tag)
	ProtocolError()
	Drained(n int64)
}

// Env is everything a connection needs from its surroundings. It is built
// once by the reactor and shared by all of its connections.
type Env struct {
	Config *common.TransportConfig
	Codec  wire.Codec

	// Handler receives inbound requests, nil drops them
	Handler Handler
	// Files receives inbound file payloads, nil drains them
	Files FileSink
	// Stats is optional
	Stats Stats

	// Unregister is called when a connection breaks. It has to remove the
	// connection from wherever it is registered; the connection closes
	// itself afterwards.
	Unregister func(c *Connection)
	// OnTeardown runs during teardown right before the socket is closed
	OnTeardown func(c *Connection)
}

func (e *Env) stats() Stats {
	if e.Stats == nil {
		return nopStats{}
	}
	return e.Stats
}

type nopStats struct{}

func (nopStats) BytesSent(int)                      {}
func (nopStats) BytesReceived(int)                  {}
func (nopStats) VectorCompleted(bool, buffer.State) {}
func (nopStats) MessageReceived(wire.Tag)           {}
func (nopStats) ProtocolError()                     {}
func (nopStats) Drained(int64)                      {}
