package schema

// Completion reference kinds.
const (
	CompletionRefPrompt   = "ref/prompt"
	CompletionRefResource = "ref/resource"
)

// CompletionReference names what is being completed, either a prompt by name
// or a resource template by URI.
type CompletionReference struct {
	Type string `json:"type"`           // "ref/prompt" or "ref/resource"
	Name string `json:"name,omitempty"` // Prompt name for ref/prompt
	URI  string `json:"uri,omitempty"`  // URI template for ref/resource
}

// CompleteArgument contains argument information for completions.
type CompleteArgument struct {
	Name  string `json:"name"`  // The name of the argument
	Value string `json:"value"` // The value of the argument to use for completion matching
}

// CompletionContext carries previously resolved arguments so the server can
// narrow suggestions (2025-06-18 and later).
type CompletionContext struct {
	Arguments map[string]string `json:"arguments,omitempty"`
}

// CompleteRequestParams contains parameters for completion requests.
type CompleteRequestParams struct {
	Ref      CompletionReference `json:"ref"`               // What is being completed
	Argument CompleteArgument    `json:"argument"`          // The argument's information
	Context  *CompletionContext  `json:"context,omitempty"` // Prior arguments (2025-06-18 and later)
}

// CompleteResult is the server's response to a completion request.
type CompleteResult struct {
	Meta       map[string]interface{} `json:"_meta,omitempty"` // Reserved for metadata
	Completion CompletionInfo         `json:"completion"`
}

// CompletionInfo contains completion results.
type CompletionInfo struct {
	HasMore *bool    `json:"hasMore,omitempty"` // Indicates if there are additional completion options
	Total   *int     `json:"total,omitempty"`   // The total number of completion options available
	Values  []string `json:"values"`            // An array of completion values, max 100 items
}
