package schema

import "encoding/json"

// Prompt describes a prompt template the server offers.
type Prompt struct {
	Name        string                 `json:"name"`                  // Programmatic name
	Title       string                 `json:"title,omitempty"`       // Human readable title (2025-06-18 and later)
	Description string                 `json:"description,omitempty"` // Prompt description
	Arguments   []PromptArgument       `json:"arguments,omitempty"`   // Arguments for templating
	Meta        map[string]interface{} `json:"_meta,omitempty"`
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one message of an instantiated prompt.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// ListPromptsRequestParams contains parameters for prompt listing requests.
type ListPromptsRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListPromptsResult is the response to a prompts list request.
type ListPromptsResult struct {
	PaginatedResult                            // Embeds next cursor
	Meta            map[string]json.RawMessage `json:"_meta,omitempty"`
	Prompts         []Prompt                   `json:"prompts"`
}

// GetPromptRequestParams names the prompt to instantiate and its arguments.
type GetPromptRequestParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult is the server's response to a prompts/get request.
type GetPromptResult struct {
	Meta        map[string]json.RawMessage `json:"_meta,omitempty"`
	Description string                     `json:"description,omitempty"`
	Messages    []PromptMessage            `json:"messages"`
}
