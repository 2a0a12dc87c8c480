package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// Message is one decoded JSON-RPC envelope. The same shape carries requests,
// notifications, responses and error responses; the helpers below classify
// which one it is.
type Message struct {
	ID        *schema.RequestID `json:"id,omitempty"`
	Timestamp time.Time         `json:"-"`
	Method    *string           `json:"method,omitempty"`
	Params    *json.RawMessage  `json:"params,omitempty"`
	Result    *json.RawMessage  `json:"result,omitempty"`
	Error     *JSONRPCError     `json:"error,omitempty"`
}

// IsRequest reports whether the envelope is a method call expecting a reply.
func (m *Message) IsRequest() bool {
	return m.Method != nil && !m.ID.IsEmpty()
}

// IsNotification reports whether the envelope is a method call without an id.
func (m *Message) IsNotification() bool {
	return m.Method != nil && m.ID.IsEmpty()
}

// IsResponse reports whether the envelope answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == nil && (m.Result != nil || m.Error != nil)
}

// Valid reports whether the envelope is classifiable at all. Anything that
// is neither request, notification nor response gets rejected at the
// transport boundary.
func (m *Message) Valid() bool {
	return m.IsRequest() || m.IsNotification() || m.IsResponse()
}

// NewRequest builds a request envelope with already-marshaled params.
func NewRequest(id schema.RequestID, method string, params *json.RawMessage) *Message {
	return &Message{
		ID:        &id,
		Timestamp: time.Now(),
		Method:    &method,
		Params:    params,
	}
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params *json.RawMessage) *Message {
	return &Message{
		Timestamp: time.Now(),
		Method:    &method,
		Params:    params,
	}
}

// NewResponse builds a success response for the given request id.
func NewResponse(id *schema.RequestID, result interface{}) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	rawMsg := json.RawMessage(raw)
	return &Message{
		ID:        id,
		Timestamp: time.Now(),
		Result:    &rawMsg,
	}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id *schema.RequestID, rpcErr *JSONRPCError) *Message {
	return &Message{
		ID:        id,
		Timestamp: time.Now(),
		Error:     rpcErr,
	}
}

// ParseMessages decodes a transport payload that may hold either a batch or
// a single envelope.
func ParseMessages(data []byte) ([]*Message, error) {
	var messages []*Message
	err := json.Unmarshal(data, &messages)
	if err == nil {
		now := time.Now()
		for _, msg := range messages {
			if msg != nil {
				msg.Timestamp = now
			}
		}
		return messages, nil
	}

	var singleMessage Message
	err = json.Unmarshal(data, &singleMessage)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message (neither batch nor single): %w", err)
	}
	singleMessage.Timestamp = time.Now()
	return []*Message{&singleMessage}, nil
}

// NilIfNil returns "nil" if the string pointer is nil, otherwise returns the pointed-to string.
func NilIfNil(s *string) string {
	if s == nil {
		return "nil"
	}
	return *s
}

// MarshalJSON ensures the JSONRPC field is properly set before marshaling
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Error != nil {
		response := JSONRPCErrorResponse{
			JSONRPC: JSONRPCVersion,
			ID:      m.ID,
			Error:   m.Error,
		}
		return json.Marshal(response)
	}
	if m.Result != nil {
		response := JSONRPCResponse{
			JSONRPC: JSONRPCVersion,
			ID:      m.ID,
			Result:  m.Result,
		}
		return json.Marshal(response)
	}
	response := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      m.ID,
		Method:  m.Method,
		Params:  m.Params,
	}
	return json.Marshal(response)
}
