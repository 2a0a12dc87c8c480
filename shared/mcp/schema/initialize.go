package schema

import (
	"encoding/json"
)

// Implementation describes the name and version of an MCP implementation.
type Implementation struct {
	Name    string `json:"name"`            // Implementation name
	Title   string `json:"title,omitempty"` // Human readable title (2025-06-18 and later)
	Version string `json:"version"`         // Implementation version
}

type Capability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type CapabilityWithSubscribe struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// SamplingCapability advertises client-side LLM access. The tools and
// context markers are draft extensions and are only sent when the user
// opted in.
type SamplingCapability struct {
	Tools   *struct{} `json:"tools,omitempty"`   // Client forwards server tool definitions into sampling
	Context *struct{} `json:"context,omitempty"` // Client can include conversation context
}

// ElicitationCapability advertises which elicitation modes the client
// serves.
type ElicitationCapability struct {
	Form *struct{} `json:"form,omitempty"` // Schema-driven form input
	URL  *struct{} `json:"url,omitempty"`  // Out-of-band browser input
}

// TasksCapability advertises task operations. A client advertises list and
// cancel; a server additionally lists which request methods accept task
// augmentation.
type TasksCapability struct {
	List     *struct{}                  `json:"list,omitempty"`
	Cancel   *struct{}                  `json:"cancel,omitempty"`
	Requests map[string]json.RawMessage `json:"requests,omitempty"`
}

// ClientCapabilities describes capabilities a client may support.
type ClientCapabilities struct {
	Experimental map[string]map[string]json.RawMessage `json:"experimental,omitempty"` // Non-standard capabilities
	Roots        *Capability                           `json:"roots,omitempty"`        // Present if client supports listing roots
	Sampling     *SamplingCapability                   `json:"sampling,omitempty"`     // Present if client supports sampling from an LLM
	Elicitation  *ElicitationCapability                `json:"elicitation,omitempty"`  // Present if client supports elicitation requests
	Tasks        *TasksCapability                      `json:"tasks,omitempty"`        // Present if client tracks server tasks (draft)
	Extensions   map[string]json.RawMessage            `json:"extensions,omitempty"`   // Negotiated extensions (2025-06-18 and later)
}

// ServerCapabilities describes features the server supports.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"` // Experimental, non-standard capabilities
	Logging      *struct{}                  `json:"logging,omitempty"`      // Present if the server supports sending log messages to the client
	Completions  *struct{}                  `json:"completions,omitempty"`  // Present if the server supports argument autocompletion suggestions
	Prompts      *Capability                `json:"prompts,omitempty"`      // Present if the server offers any prompt templates
	Resources    *CapabilityWithSubscribe   `json:"resources,omitempty"`    // Present if the server offers any resources to read
	Tools        *Capability                `json:"tools,omitempty"`        // Present if the server offers any tools to call
	Tasks        *TasksCapability           `json:"tasks,omitempty"`        // Present if the server supports task-augmented requests (draft)
	Extensions   map[string]json.RawMessage `json:"extensions,omitempty"`   // Negotiated extensions (2025-06-18 and later)
}

// InitializeRequestParams contains parameters for initialization.
type InitializeRequestParams struct {
	Capabilities    ClientCapabilities `json:"capabilities"`    // Client capabilities
	ClientInfo      Implementation     `json:"clientInfo"`      // Client implementation info
	ProtocolVersion string             `json:"protocolVersion"` // Latest supported protocol version
}

// InitializeResult is the server's response to initialization.
type InitializeResult struct {
	Meta            map[string]interface{} `json:"_meta,omitempty"`        // Reserved for metadata
	ProtocolVersion string                 `json:"protocolVersion"`        // Server's chosen protocol version
	Capabilities    ServerCapabilities     `json:"capabilities"`           // Server capabilities
	ServerInfo      Implementation         `json:"serverInfo"`             // Server implementation info
	Instructions    string                 `json:"instructions,omitempty"` // Instructions describing how to use the server and its features
}
