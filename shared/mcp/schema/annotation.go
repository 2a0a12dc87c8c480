package schema

// Role describes the intended audience of content.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Annotations provides optional hints for how clients should use or display
// an object.
type Annotations struct {
	Audience     []Role   `json:"audience,omitempty"`     // Intended customers
	Priority     *float64 `json:"priority,omitempty"`     // Importance, 1 means required, 0 optional
	LastModified string   `json:"lastModified,omitempty"` // ISO 8601 timestamp of last modification (2025-03-26 and later)
}
