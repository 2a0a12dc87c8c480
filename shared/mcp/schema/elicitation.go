package schema

import "encoding/json"

// Elicitation modes. Form mode collects structured input against a schema,
// URL mode directs the user to an external page and completes out of band.
const (
	ElicitationModeForm = "form"
	ElicitationModeURL  = "url"
)

// Elicitation actions a client may answer with.
const (
	ElicitationActionAccept  = "accept"
	ElicitationActionDecline = "decline"
	ElicitationActionCancel  = "cancel"
)

// ElicitRequestParams asks the client to collect input from the user.
// Sent from the server to the client (2025-06-18 and later).
type ElicitRequestParams struct {
	Message         string          `json:"message"`                   // Prompt shown to the user
	RequestedSchema json.RawMessage `json:"requestedSchema,omitempty"` // Flat object schema for form mode
	Mode            string          `json:"mode,omitempty"`            // "form" (default) or "url"
	URL             string          `json:"url,omitempty"`             // Page to open in url mode
	ElicitationID   string          `json:"elicitationId,omitempty"`   // Correlates url mode completion notifications
}

// ElicitResult is the client's response to an elicitation request.
type ElicitResult struct {
	Meta    map[string]interface{} `json:"_meta,omitempty"`
	Action  string                 `json:"action"`            // "accept", "decline" or "cancel"
	Content map[string]interface{} `json:"content,omitempty"` // Collected values, only on accept
}

// ElicitationCompleteNotificationParams reports that an url mode elicitation
// finished out of band.
type ElicitationCompleteNotificationParams struct {
	ElicitationID string `json:"elicitationId"`
}
