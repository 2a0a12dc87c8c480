package schema

import "encoding/json"

// ModelHint provides hints for model selection.
type ModelHint struct {
	Name string `json:"name,omitempty"` // Hint for model name
}

// ModelPreferences expresses server preferences for model selection.
// These preferences are always advisory. The client MAY ignore them.
type ModelPreferences struct {
	CostPriority         *float64    `json:"costPriority,omitempty"`         // Priority for cost (0-1)
	Hints                []ModelHint `json:"hints,omitempty"`                // Optional model selection hints
	IntelligencePriority *float64    `json:"intelligencePriority,omitempty"` // Priority for capabilities (0-1)
	SpeedPriority        *float64    `json:"speedPriority,omitempty"`        // Priority for speed (0-1)
}

// SamplingMessage describes a message issued to or received from an LLM API.
type SamplingMessage struct {
	Role    Role    `json:"role"`    // Message sender (user or assistant)
	Content Content `json:"content"` // Message content (TextContent, ImageContent, or AudioContent)
}

// CreateMessageRequestParams contains parameters for LLM sampling.
// Sent from the server to the client.
type CreateMessageRequestParams struct {
	Messages         []SamplingMessage `json:"messages"`                   // Messages to use for sampling
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"` // Server's preferences for model selection
	SystemPrompt     string            `json:"systemPrompt,omitempty"`     // Optional system prompt
	IncludeContext   string            `json:"includeContext,omitempty"`   // Request context inclusion ("none", "thisServer", "allServers")
	Temperature      *float64          `json:"temperature,omitempty"`      // Sampling temperature
	MaxTokens        int               `json:"maxTokens"`                  // Maximum tokens to sample
	StopSequences    []string          `json:"stopSequences,omitempty"`    // Sequences that should stop sampling
	Metadata         interface{}       `json:"metadata,omitempty"`         // Optional provider-specific metadata
	Tools            []json.RawMessage `json:"tools,omitempty"`            // Tool definitions forwarded for sampling (draft)
}

// CreateMessageResult contains the result of LLM sampling.
// The client's response to a sampling/createMessage request.
type CreateMessageResult struct {
	Meta       map[string]interface{} `json:"_meta,omitempty"`      // Reserved for metadata
	Role       Role                   `json:"role"`                 // Role of the generated message (usually "assistant")
	Content    Content                `json:"content"`              // Generated message content (TextContent, ImageContent, AudioContent)
	Model      string                 `json:"model"`                // Name of the model that generated the message
	StopReason string                 `json:"stopReason,omitempty"` // Reason why sampling stopped, if known
}

// Stop reasons a sampling result may carry. Hosts report these in mixed
// conventions, so results are normalized to the camelCase forms.
const (
	StopReasonEndTurn      = "endTurn"
	StopReasonStopSequence = "stopSequence"
	StopReasonMaxTokens    = "maxTokens"
)
