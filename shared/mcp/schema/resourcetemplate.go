package schema

import "encoding/json"

// ResourceTemplate describes a parameterized family of resources reachable
// through an RFC 6570 URI template.
type ResourceTemplate struct {
	URITemplate string                 `json:"uriTemplate"`           // Template with {variable} expressions
	Name        string                 `json:"name"`                  // Programmatic name
	Title       string                 `json:"title,omitempty"`       // Human readable title (2025-06-18 and later)
	Description string                 `json:"description,omitempty"` // Template description
	MimeType    string                 `json:"mimeType,omitempty"`    // MIME type of all matching resources, if uniform
	Annotations *Annotations           `json:"annotations,omitempty"` // Optional display hints
	Meta        map[string]interface{} `json:"_meta,omitempty"`
}

// ListResourceTemplatesRequestParams contains parameters for template listing requests.
type ListResourceTemplatesRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListResourceTemplatesResult is the response to a templates list request.
type ListResourceTemplatesResult struct {
	PaginatedResult                               // Embeds next cursor
	Meta              map[string]json.RawMessage `json:"_meta,omitempty"`
	ResourceTemplates []ResourceTemplate         `json:"resourceTemplates"`
}
