package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/sedarpc/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
	// PeekRequestID recovers only the request id from possibly damaged
	// serialized bytes, false if even that is impossible
	PeekRequestID(b []byte) (uint64, bool)
}

// Names lists the serializers accepted by ByName
var Names = []string{"binary", "json", "gob"}

// ByName returns the serializer with the given name (case-insensitive)
func ByName(name string) (IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (valid: %s)", name, strings.Join(Names, ", "))
	}
}
