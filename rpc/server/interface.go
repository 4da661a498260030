package server

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/sedarpc/rpc/common"
)

// Request is a decoded inbound request as seen by a handler
type Request struct {
	Message    *common.Message
	Attachment []byte

	// File is the path of the stored file payload, empty if the request
	// carried none or the server has no file directory
	File string
	// FileLen is the declared length of the file payload, also set when
	// the payload was drained
	FileLen int64

	Peer common.Endpoint
}

// Reply is what a handler answers with. The request id is filled in by the
// server.
type Reply struct {
	Message    *common.Message
	Attachment []byte

	// File is streamed after the attachment and closed once sent
	File    *os.File
	FileLen int64
}

// IRPCRequestHandler is the interface for all request handlers.
// Handle is called on a stage worker, never on a transport worker, so it
// may block. If an error occurs, it should be set in the reply message;
// a nil reply or a reply without message is answered with an error.
type IRPCRequestHandler interface {
	Handle(req *Request) (reply *Reply)
}

// HandlerFunc adapts a function to IRPCRequestHandler
type HandlerFunc func(req *Request) *Reply

func (f HandlerFunc) Handle(req *Request) *Reply { return f(req) }

// Ok wraps a success response message into a reply
func Ok(value []byte) *Reply {
	return &Reply{Message: common.NewSuccessResponse(0, value)}
}

// Fail wraps an error response message into a reply
func Fail(format string, args ...any) *Reply {
	return &Reply{Message: common.NewErrorResponse(0, fmt.Sprintf(format, args...))}
}
