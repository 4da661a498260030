package serializer

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
)

var ErrWrongDirection = errors.New("message type does not match frame direction")

// Codec adapts a serializer to the transport. Payloads of requests and
// responses are *common.Message; the frame's request id travels in
// Message.RequestID.
type Codec struct {
	s IRPCSerializer
}

// NewCodec wraps s
func NewCodec(s IRPCSerializer) *Codec {
	return &Codec{s: s}
}

// Serializer returns the wrapped serializer
func (c *Codec) Serializer() IRPCSerializer { return c.s }

func (c *Codec) Encode(m wire.Decoded) ([]byte, error) {
	var payload any
	switch v := m.(type) {
	case *wire.Request:
		payload = v.Payload
	case *wire.Response:
		payload = v.Payload
	}

	var msg common.Message
	switch p := payload.(type) {
	case *common.Message:
		msg = *p
	case common.Message:
		msg = p
	default:
		return nil, fmt.Errorf("cannot encode payload of type %T", payload)
	}
	msg.RequestID = m.RequestID()
	return c.s.Serialize(msg)
}

func (c *Codec) Decode(tag wire.Tag, b []byte) (wire.Decoded, error) {
	msg := &common.Message{}
	if err := c.s.Deserialize(b, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrUndecodable, err)
	}
	if msg.IsResponse() != (tag == wire.TagResponse) {
		return nil, fmt.Errorf("%w: %w: %s in %s frame", wire.ErrUndecodable, ErrWrongDirection, msg.MsgType, tag)
	}
	if tag == wire.TagResponse {
		return &wire.Response{ID: msg.RequestID, Payload: msg}, nil
	}
	return &wire.Request{ID: msg.RequestID, Payload: msg}, nil
}

func (c *Codec) PeekRequestID(b []byte) (uint64, bool) {
	return c.s.PeekRequestID(b)
}

func (c *Codec) ErrorResponse(id uint64, reason string) *wire.Response {
	return &wire.Response{ID: id, Payload: common.NewErrorResponse(id, reason)}
}

// Message returns the envelope carried by a decoded message, nil if it
// carries something else
func Message(m wire.Decoded) *common.Message {
	var payload any
	switch v := m.(type) {
	case *wire.Request:
		payload = v.Payload
	case *wire.Response:
		payload = v.Payload
	}
	msg, _ := payload.(*common.Message)
	return msg
}
