package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the application envelope carried as the serialized message part
// of every frame. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// RequestID correlates a response with the request it answers.
	// It is assigned by the sending connection, never by the application.
	RequestID uint64 `json:"request_id"`

	// General fields
	Method string `json:"method,omitempty"` // Used for: Custom requests (handler name)
	Value  []byte `json:"value,omitempty"`  // Used for: Echo, Custom (request and response)

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Ping, Echo responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Free form, e.g. file names for uploads
}

// IsResponse reports whether the message travels in response direction
func (m *Message) IsResponse() bool {
	return m.MsgType == MsgTSuccess || m.MsgType == MsgTError
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTPing,
	}
}

// NewEchoRequest creates a new Echo request
func NewEchoRequest(value []byte) *Message {
	return &Message{
		MsgType: MsgTEcho,
		Value:   value,
	}
}

// NewCustomRequest creates a new Custom request routed by method name
func NewCustomRequest(method string, value []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Method:  method,
		Value:   value,
	}
}

// NewSuccessResponse creates a new success response for the given request
func NewSuccessResponse(requestID uint64, value []byte) *Message {
	return &Message{
		MsgType:   MsgTSuccess,
		RequestID: requestID,
		Ok:        true,
		Value:     value,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(requestID uint64, err string) *Message {
	return &Message{
		MsgType:   MsgTError,
		RequestID: requestID,
		Err:       err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTPing:
		return "ping"
	case MsgTEcho:
		return "echo"
	case MsgTCustom:
		return "custom"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// ParseMessageType converts the string representation back into a MessageType
func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "ping":
		return MsgTPing, nil
	case "echo":
		return MsgTEcho, nil
	case "custom":
		return MsgTCustom, nil
	case "error":
		return MsgTError, nil
	case "success":
		return MsgTSuccess, nil
	default:
		return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Built-in operations

	MsgTPing // Liveness check
	MsgTEcho // Returns the payload and attachment unchanged

	// Custom operations

	MsgTCustom // Custom operation type, dispatched by Method
)
