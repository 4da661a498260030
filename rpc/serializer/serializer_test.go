package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Echo request
		{
			MsgType:   common.MsgTEcho,
			RequestID: 7,
			Value:     []byte("test-value"),
		},

		// Success response
		{
			MsgType:   common.MsgTSuccess,
			RequestID: 7,
			Value:     []byte("test-value"),
			Ok:        true,
		},

		// Error response
		{
			MsgType:   common.MsgTError,
			RequestID: 1 << 40,
			Err:       "test error message",
		},

		// Message with all fields filled
		{
			MsgType:   common.MsgTCustom,
			RequestID: ^uint64(0),
			Method:    "test-method",
			Value:     []byte("test-custom-value"),
			Ok:        true,
			Err:       "",
			Meta:      []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTCustom; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty strings and zero values",
			msg: common.Message{
				MsgType: common.MsgTCustom,
				Method:  "",
				Value:   []byte{},
				Ok:      false,
				Err:     "",
				Meta:    []byte{},
			},
		},
		{
			name: "Message with empty strings but Ok=true",
			msg: common.Message{
				MsgType:   common.MsgTSuccess,
				RequestID: 3,
				Ok:        true,
				Value:     nil,
			},
		},
		{
			name: "Message with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTEcho,
				Value:   []byte{},
			},
		},
		{
			name: "Message with empty meta slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTCustom,
				Method:  "upload",
				Meta:    []byte{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result common.Message
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// Verify method
			if tc.msg.Method != result.Method {
				t.Errorf("Method mismatch: expected '%s', got '%s'", tc.msg.Method, result.Method)
			}

			// Verify RequestID
			if tc.msg.RequestID != result.RequestID {
				t.Errorf("RequestID mismatch: expected %d, got %d", tc.msg.RequestID, result.RequestID)
			}

			// Verify Ok
			if tc.msg.Ok != result.Ok {
				t.Errorf("Ok mismatch: expected %v, got %v", tc.msg.Ok, result.Ok)
			}

			// Verify Err
			if tc.msg.Err != result.Err {
				t.Errorf("Err mismatch: expected '%s', got '%s'", tc.msg.Err, result.Err)
			}

			// Verify MsgType
			if tc.msg.MsgType != result.MsgType {
				t.Errorf("MsgType mismatch: expected %v, got %v", tc.msg.MsgType, result.MsgType)
			}

			// Special handling for byte slices that may be nil or empty
			if (tc.msg.Value == nil) != (result.Value == nil) {
				t.Errorf("Value nil/non-nil mismatch: expected %v, got %v", tc.msg.Value, result.Value)
			} else if tc.msg.Value != nil && result.Value != nil {
				if len(tc.msg.Value) != len(result.Value) {
					t.Errorf("Value length mismatch: expected %d, got %d", len(tc.msg.Value), len(result.Value))
				} else {
					for i := 0; i < len(tc.msg.Value); i++ {
						if tc.msg.Value[i] != result.Value[i] {
							t.Errorf("Value content mismatch at index %d", i)
							break
						}
					}
				}
			}

			// Same for Meta
			if (tc.msg.Meta == nil) != (result.Meta == nil) {
				t.Errorf("Meta nil/non-nil mismatch: expected %v, got %v", tc.msg.Meta, result.Meta)
			} else if tc.msg.Meta != nil && result.Meta != nil {
				if len(tc.msg.Meta) != len(result.Meta) {
					t.Errorf("Meta length mismatch: expected %d, got %d", len(tc.msg.Meta), len(result.Meta))
				} else {
					for i := 0; i < len(tc.msg.Meta); i++ {
						if tc.msg.Meta[i] != result.Meta[i] {
							t.Errorf("Meta content mismatch at index %d", i)
							break
						}
					}
				}
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0, 0, 0, 0}, // Request id cut off
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 9}, // Message type 1, no flags, request id 9
			expectError: false,
		},
		{
			name:        "Invalid length for method",
			data:        []byte{1, 1, 0, 0, 0, 0, 0, 0, 0, 9, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims method length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 2, 0, 0, 0, 0, 0, 0, 0, 9, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Trailing bytes",
			data:        []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 9, 42},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestPeekRequestID tests that every serializer recovers the request id
// from messages it cannot fully decode
func TestPeekRequestID(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(common.Message{MsgType: common.MsgTEcho, RequestID: 4711, Value: []byte("x")})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			id, ok := serializer.PeekRequestID(data)
			if !ok || id != 4711 {
				t.Errorf("Expected request id 4711, got %d (ok=%v)", id, ok)
			}

			if _, ok := serializer.PeekRequestID([]byte{0xff}); ok {
				t.Errorf("Expected no request id from garbage")
			}
		})
	}

	// A JSON message with an unknown type still yields its id
	json := NewJSONSerializer()
	damaged := []byte(`{"msg_type":"no-such-type","request_id":12}`)
	var msg common.Message
	if err := json.Deserialize(damaged, &msg); err == nil {
		t.Fatalf("Expected unknown message type to fail")
	}
	if id, ok := json.PeekRequestID(damaged); !ok || id != 12 {
		t.Errorf("Expected request id 12, got %d (ok=%v)", id, ok)
	}

	// The binary id sits at a fixed offset, the rest may be damaged
	bin := NewBinarySerializer()
	damaged = []byte{3, 0xff, 0, 0, 0, 0, 0, 0, 0, 99, 1}
	if err := bin.Deserialize(damaged, &msg); err == nil {
		t.Fatalf("Expected damaged binary message to fail")
	}
	if id, ok := bin.PeekRequestID(damaged); !ok || id != 99 {
		t.Errorf("Expected request id 99, got %d (ok=%v)", id, ok)
	}
}

// TestCodec tests the transport codec on top of each serializer
func TestCodec(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			codec := NewCodec(factory())

			// The request id of the frame wins over the one in the payload
			data, err := codec.Encode(&wire.Request{ID: 5, Payload: common.NewEchoRequest([]byte("hi"))})
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			decoded, err := codec.Decode(wire.TagRequest, data)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			req, ok := decoded.(*wire.Request)
			if !ok || req.ID != 5 {
				t.Fatalf("Expected request 5, got %#v", decoded)
			}
			if msg := Message(req); msg == nil || msg.MsgType != common.MsgTEcho || string(msg.Value) != "hi" {
				t.Errorf("Unexpected payload %+v", Message(req))
			}

			// A request type in a response frame is rejected but its id is recoverable
			if _, err := codec.Decode(wire.TagResponse, data); !errors.Is(err, wire.ErrUndecodable) || !errors.Is(err, ErrWrongDirection) {
				t.Errorf("Expected wrong direction error, got %v", err)
			}
			if id, ok := codec.PeekRequestID(data); !ok || id != 5 {
				t.Errorf("Expected request id 5, got %d (ok=%v)", id, ok)
			}

			// Error responses round trip as responses
			data, err = codec.Encode(codec.ErrorResponse(9, "nope"))
			if err != nil {
				t.Fatalf("Failed to encode error response: %v", err)
			}
			decoded, err = codec.Decode(wire.TagResponse, data)
			if err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if msg := Message(decoded); decoded.RequestID() != 9 || msg.MsgType != common.MsgTError || msg.Err != "nope" {
				t.Errorf("Unexpected error response %+v", msg)
			}

			if _, err := codec.Encode(&wire.Request{ID: 1, Payload: "not a message"}); err == nil {
				t.Errorf("Expected encoding a foreign payload to fail")
			}
		})
	}
}

// TestByName tests the serializer lookup used by the command line
func TestByName(t *testing.T) {
	for _, name := range append(Names, "JSON", "") {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q) failed: %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Errorf("Expected unknown serializer to fail")
	}
}
