package client

import (
	"encoding/json"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// HostToolDescriptor is the host-LLM view of an MCP tool: a plain data
// shape integration layers feed to their provider's tool-calling API.
type HostToolDescriptor struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments. Hosts
	// that require a schema always get one; tools without an input schema
	// map to an empty object schema.
	Parameters json.RawMessage
	// OutputSchema describes structured results, when declared.
	OutputSchema json.RawMessage
	// ReadOnly mirrors the tool's readOnlyHint when present.
	ReadOnly bool
}

// emptyObjectSchema is the permissive fallback for tools that declare no
// input schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToHostTool converts an MCP tool into a host tool descriptor. The
// conversion is pure; binding the descriptor to a live CallTool is the
// host's choice.
func ToHostTool(t schema.Tool) HostToolDescriptor {
	d := HostToolDescriptor{
		Name:         t.Name,
		Description:  t.Description,
		Parameters:   t.InputSchema,
		OutputSchema: t.OutputSchema,
	}
	if d.Description == "" {
		d.Description = t.Title
	}
	if len(d.Parameters) == 0 {
		d.Parameters = emptyObjectSchema
	}
	if t.Annotations != nil && t.Annotations.ReadOnlyHint != nil {
		d.ReadOnly = *t.Annotations.ReadOnlyHint
	}
	return d
}
