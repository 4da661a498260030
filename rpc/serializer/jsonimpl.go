package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/sedarpc/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return json.Unmarshal(b, msg)
}

func (j jsonSerializerImpl) PeekRequestID(b []byte) (uint64, bool) {
	// only the id field is decoded, an unknown message type does not matter
	var partial struct {
		RequestID *uint64 `json:"request_id"`
	}
	if err := json.Unmarshal(b, &partial); err != nil || partial.RequestID == nil {
		return 0, false
	}
	return *partial.RequestID, true
}
