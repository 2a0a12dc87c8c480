package schema

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RequestID is a JSON-RPC request identifier. The protocol allows both
// string and integer ids, so the value is kept as decoded.
type RequestID struct {
	Value interface{}
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var i interface{}
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	id.Value = i
	return nil
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value)
}

// NewRequestID returns a fresh string id. UUIDs keep ids unique across
// transport restarts, where a restarted counter could collide with a
// response still in flight.
func NewRequestID() RequestID {
	return RequestID{Value: uuid.NewString()}
}

func RequestID_FromUInt64(value uint64) RequestID {
	return RequestID{Value: value}
}

func RequestID_FromString(value string) RequestID {
	return RequestID{Value: value}
}

func (id *RequestID) String() string {
	if id == nil || id.Value == nil {
		return "nil"
	}
	bytes, err := json.Marshal(id.Value)
	if err != nil {
		return err.Error()
	}
	return string(bytes)
}

func (id *RequestID) IsEmpty() bool {
	return id == nil || id.Value == nil
}

// Key returns the canonical map key for correlating a response with its
// request. Servers may echo a numeric id back with a different JSON number
// representation, so the key is the marshaled form.
func (id *RequestID) Key() string {
	return id.String()
}
