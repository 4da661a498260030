package wire

import (
	"errors"
)

// ErrUndecodable is returned by codecs for message bytes they cannot parse
var ErrUndecodable = errors.New("undecodable message")

// --------------------------------------------------------------------------
// Decoded messages (closed union)
// --------------------------------------------------------------------------

// Decoded is either a *Request or a *Response. The set is closed, callers
// switch over the two concrete types.
type Decoded interface {
	// RequestID returns the correlation identifier of the message
	RequestID() uint64
	// Tag returns the frame tag used to send this message
	Tag() Tag

	sealed()
}

// Request is an inbound call that has to be answered by the application
type Request struct {
	ID      uint64
	Payload any
}

func (r *Request) RequestID() uint64 { return r.ID }
func (r *Request) Tag() Tag          { return TagRequest }
func (r *Request) sealed()           {}

// Response answers the request with the same ID
type Response struct {
	ID      uint64
	Payload any
}

func (r *Response) RequestID() uint64 { return r.ID }
func (r *Response) Tag() Tag          { return TagResponse }
func (r *Response) sealed()           {}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Codec is the single capability the application injects into the transport.
// The transport never interprets payloads, it only moves the bytes a codec
// produces and asks the codec to turn received bytes back into a Decoded.
type Codec interface {
	// Encode serializes the message. The request identifier has to be
	// part of the encoded bytes so the peer can correlate the response.
	Encode(msg Decoded) ([]byte, error)

	// Decode parses message bytes received under the given tag
	Decode(tag Tag, b []byte) (Decoded, error)

	// PeekRequestID recovers the request identifier from bytes Decode
	// rejected. ok is false if the identifier cannot be recovered.
	PeekRequestID(b []byte) (id uint64, ok bool)

	// ErrorResponse builds the response sent back for a request that
	// could not be decoded or handled
	ErrorResponse(id uint64, reason string) *Response
}

// --------------------------------------------------------------------------
// Chunking
// --------------------------------------------------------------------------

// Chunks splits b into consecutive sub-slices of at most block bytes.
// The sub-slices share b's backing array.
func Chunks(b []byte, block int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(b)+block-1)/block)
	for len(b) > block {
		out = append(out, b[:block])
		b = b[block:]
	}
	return append(out, b)
}
