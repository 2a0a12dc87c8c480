package schema

import "encoding/json"

// Arguments is a type alias for tool arguments map.
type Arguments = map[string]interface{}

// Meta is a type alias for the reserved metadata field.
type Meta = map[string]interface{}

// ToolAnnotations provides additional properties describing a Tool to clients.
// NOTE: all properties in ToolAnnotations are **hints**.
// They are not guaranteed to provide a faithful description of tool behavior.
// Clients should never make tool use decisions based on ToolAnnotations received from untrusted servers.
type ToolAnnotations struct {
	// A human-readable title for the tool.
	Title string `json:"title,omitempty"`
	// If true, the tool does not modify its environment (Default: false).
	ReadOnlyHint *bool `json:"readOnlyHint,omitempty"`
	// If true, the tool may perform destructive updates (Default: true).
	// (Meaningful only when readOnlyHint == false).
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
	// If true, repeated calls with same args have no additional effect (Default: false).
	// (Meaningful only when readOnlyHint == false).
	IdempotentHint *bool `json:"idempotentHint,omitempty"`
	// If true, this tool may interact with an "open world" (Default: true).
	OpenWorldHint *bool `json:"openWorldHint,omitempty"`
}

// ToolExecution describes whether a tool accepts task-augmented calls (draft).
type ToolExecution struct {
	TaskSupport string `json:"taskSupport,omitempty"` // "forbidden", "optional" or "required"
}

// Tool defines a callable tool the client can use.
// Schemas are kept as raw JSON so unknown keywords survive a round trip and
// can be fed to a validator as-is.
type Tool struct {
	// The name of the tool.
	Name string `json:"name"`
	// A human-readable title (2025-06-18 and later).
	Title string `json:"title,omitempty"`
	// A human-readable description of the tool.
	Description string `json:"description,omitempty"`
	// A JSON Schema object defining the expected parameters for the tool.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	// A JSON Schema object describing structuredContent of results (2025-06-18 and later).
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	// Optional additional tool information.
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
	// Task augmentation support (draft).
	Execution *ToolExecution `json:"execution,omitempty"`
	// Reserved metadata.
	Meta Meta `json:"_meta,omitempty"`
}

// ListToolsRequestParams contains parameters for tool listing requests.
type ListToolsRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListToolsResult is the response to a tools list request.
type ListToolsResult struct {
	PaginatedResult        // Embeds next cursor
	Meta            Meta   `json:"_meta,omitempty"` // Reserved for metadata
	Tools           []Tool `json:"tools"`           // Available tools
}

// TaskMetadata augments a request so the server runs it as a task (draft).
type TaskMetadata struct {
	TTL int64 `json:"ttl,omitempty"` // Requested result retention in milliseconds
}

// CallToolRequestParams contains parameters for tool call requests.
type CallToolRequestParams struct {
	// The name of the tool.
	Name string `json:"name"`
	// Arguments for the tool call.
	Arguments Arguments `json:"arguments"` // removed:omitempty because several implementations require this field to be present. Send empty object if no arguments are needed.
	// Present when the caller wants the server to run the call as a task (draft).
	Task *TaskMetadata `json:"task,omitempty"`
	// Reserved metadata, carries the progress token.
	MetaData Meta `json:"_meta,omitempty"`
}

// CallToolResult contains the result of a tool invocation.
type CallToolResult struct {
	Meta Meta `json:"_meta,omitempty"` // Reserved for metadata
	// Result content, can be Text, Image, Audio, EmbeddedResource or ResourceLink.
	Content []Content `json:"content"`
	// Structured result conforming to the tool's outputSchema (2025-06-18 and later).
	StructuredContent map[string]interface{} `json:"structuredContent,omitempty"`
	// Whether the tool call ended in an error. If not set, assumed false.
	IsError bool `json:"isError,omitempty"`
}
