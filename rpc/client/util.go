package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc/client")
)

var (
	ErrNoEndpoints     = errors.New("no endpoints configured")
	ErrRemote          = errors.New("remote error")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Response is the answer to a call. File payloads sent along with a
// response are drained by the client.
type Response struct {
	Message    *common.Message
	Attachment []byte
}

// toResponse checks the result of a call
// It returns the response and an error if the call failed or the server answered
// with an error response. On a remote error the response is returned as well.
func toResponse(res conn.Result) (*Response, error) {
	if err := res.Err(); err != nil {
		return nil, err
	}

	msg := serializer.Message(res.Response)
	if msg == nil {
		return nil, fmt.Errorf("%w: response without message", ErrUnexpectedReply)
	}
	resp := &Response{Message: msg, Attachment: res.Attachment}

	// Check if the response is an error response
	if msg.MsgType == common.MsgTError || msg.Err != "" {
		return resp, fmt.Errorf("%w: %s", ErrRemote, msg.Err)
	}
	return resp, nil
}
