package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/sedarpc/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: MsgType (1) | flags (1) | RequestID (8) | optional fields
//
// The request id always sits at the same offset so it can be recovered from
// messages whose remaining fields are damaged.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasMethod byte = 1 << 0
	hasValue  byte = 1 << 1
	hasOk     byte = 1 << 2
	hasErr    byte = 1 << 3
	hasMeta   byte = 1 << 4
)

const (
	requestIDOffset = 2
	fixedSize       = requestIDOffset + 8
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type and request id
	result[0] = byte(msg.MsgType)
	binary.BigEndian.PutUint64(result[requestIDOffset:fixedSize], msg.RequestID)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := fixedSize

	// Handle Method
	if msg.Method != "" {
		flags |= hasMethod
		pos = putBytes(result, pos, []byte(msg.Method))
	}

	// Handle Value
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		pos = putBytes(result, pos, msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags + RequestID)
	if len(data) < fixedSize {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type, flags and request id
	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	msg.RequestID = binary.BigEndian.Uint64(data[requestIDOffset:fixedSize])

	// Initialize read position
	pos := fixedSize
	var err error

	// Read Method if present
	msg.Method = ""
	if flags&hasMethod != 0 {
		var method []byte
		if method, pos, err = readBytes(data, pos, "method"); err != nil {
			return err
		}
		msg.Method = string(method)
	}

	// Read Value if present, reusing the slice of msg if it is large enough
	if flags&hasValue != 0 {
		var value []byte
		if value, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
		msg.Value = reuse(msg.Value, value)
	} else {
		msg.Value = nil
	}

	// Read Ok if present
	msg.Ok = false
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		var errBytes []byte
		if errBytes, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(errBytes)
	}

	// Read Meta if present
	if flags&hasMeta != 0 {
		var meta []byte
		if meta, pos, err = readBytes(data, pos, "meta"); err != nil {
			return err
		}
		msg.Meta = reuse(msg.Meta, meta)
	} else {
		msg.Meta = nil
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

func (b binarySerializerImpl) PeekRequestID(data []byte) (uint64, bool) {
	if len(data) < fixedSize {
		return 0, false
	}
	return binary.BigEndian.Uint64(data[requestIDOffset:fixedSize]), true
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags + 8 bytes for RequestID
	size := fixedSize

	// Add sizes for fields that require length encoding
	if msg.Method != "" {
		size += 4 + len(msg.Method) // 4 bytes for length + method string
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + value bytes
	}
	if msg.Ok {
		size += 1 // 1 byte for boolean
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta) // 4 bytes for length + meta bytes
	}

	return size
}

// putBytes writes a length-prefixed field and returns the next position
func putBytes(dst []byte, pos int, field []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(field)))
	pos += 4
	copy(dst[pos:pos+len(field)], field)
	return pos + len(field)
}

// readBytes reads a length-prefixed field without copying
func readBytes(data []byte, pos int, name string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", name)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", name)
	}
	return data[pos : pos+n], pos + n, nil
}

// reuse copies src into dst if it has the capacity, otherwise into a new
// slice; the result is never nil
func reuse(dst, src []byte) []byte {
	if dst == nil || cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}
