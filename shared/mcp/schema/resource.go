package schema

import "encoding/json"

// Resource describes a known resource the server can read.
type Resource struct {
	URI         string                 `json:"uri"`                   // Resource location
	Name        string                 `json:"name"`                  // Programmatic name
	Title       string                 `json:"title,omitempty"`       // Human readable title (2025-06-18 and later)
	Description string                 `json:"description,omitempty"` // Resource description
	MimeType    string                 `json:"mimeType,omitempty"`    // MIME type if known
	Size        *int64                 `json:"size,omitempty"`        // Raw size in bytes if known
	Annotations *Annotations           `json:"annotations,omitempty"` // Optional display hints
	Meta        map[string]interface{} `json:"_meta,omitempty"`
}

// ListResourcesRequestParams contains parameters for resource listing requests.
type ListResourcesRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListResourcesResult is the response to a resources list request.
type ListResourcesResult struct {
	PaginatedResult                               // Embeds next cursor
	Meta            map[string]json.RawMessage `json:"_meta,omitempty"`
	Resources       []Resource                 `json:"resources"`
}

// ReadResourceRequestParams names the resource to read.
type ReadResourceRequestParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult carries the contents of one resource. A single read may
// return several content items, for example a directory listing.
type ReadResourceResult struct {
	Meta     map[string]json.RawMessage `json:"_meta,omitempty"`
	Contents []ResourceContent          `json:"contents"`
}

type SubscribeRequestParams struct {
	URI string `json:"uri"`
}

type UnsubscribeRequestParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedNotificationParams names the resource whose content
// changed. Sent only for URIs the client subscribed to.
type ResourceUpdatedNotificationParams struct {
	URI string `json:"uri"`
}
