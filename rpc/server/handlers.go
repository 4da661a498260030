package server

import (
	"strconv"

	"github.com/ValentinKolb/sedarpc/rpc/common"
)

// NewPingHandler answers ping requests
func NewPingHandler() IRPCRequestHandler {
	return HandlerFunc(func(req *Request) *Reply {
		return Ok(nil)
	})
}

// NewEchoHandler returns the request value and attachment unchanged. If the
// request carried a file payload, its length is reported in Meta.
func NewEchoHandler() IRPCRequestHandler {
	return HandlerFunc(func(req *Request) *Reply {
		resp := common.NewSuccessResponse(0, req.Message.Value)
		if req.FileLen > 0 {
			resp.Meta = []byte(strconv.FormatInt(req.FileLen, 10))
		}
		return &Reply{Message: resp, Attachment: req.Attachment}
	})
}

// methodRouter dispatches custom requests by method name
type methodRouter struct {
	s *RPCServer
}

func (m methodRouter) Handle(req *Request) *Reply {
	h, ok := m.s.methods.Load(req.Message.Method)
	if !ok {
		return Fail("unknown method: %q", req.Message.Method)
	}
	return h.Handle(req)
}
