package schema

// Content is one block of prompt, tool or sampling content. Type selects
// which of the optional fields are meaningful: "text", "image", "audio",
// "resource" (embedded) or "resource_link" (2025-06-18 and later).
type Content struct {
	Type        string                 `json:"type"`
	Annotations *Annotations           `json:"annotations,omitempty"`
	Text        *string                `json:"text,omitempty"`        // For type "text"
	Data        *string                `json:"data,omitempty"`        // Base64 payload for "image" and "audio"
	MimeType    *string                `json:"mimeType,omitempty"`    // For "image", "audio" and "resource_link"
	Resource    *ResourceContent       `json:"resource,omitempty"`    // For type "resource"
	URI         *string                `json:"uri,omitempty"`         // For type "resource_link"
	Name        *string                `json:"name,omitempty"`        // For type "resource_link"
	Title       *string                `json:"title,omitempty"`       // For type "resource_link"
	Description *string                `json:"description,omitempty"` // For type "resource_link"
	Meta        map[string]interface{} `json:"_meta,omitempty"`
}

// ResourceContent is the payload of one resource, either inline text or a
// base64 blob.
type ResourceContent struct {
	URI      string  `json:"uri"`
	MimeType *string `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     *string `json:"blob,omitempty"`
}

func NewTextContent(text string) Content {
	return Content{Type: "text", Text: &text}
}

func NewImageContent(data, mimeType string) Content {
	return Content{Type: "image", Data: &data, MimeType: &mimeType}
}

func NewAudioContent(data, mimeType string) Content {
	return Content{Type: "audio", Data: &data, MimeType: &mimeType}
}

func NewResourceContent(resource ResourceContent) Content {
	return Content{Type: "resource", Resource: &resource}
}

func NewResourceLink(uri, name string) Content {
	return Content{Type: "resource_link", URI: &uri, Name: &name}
}
