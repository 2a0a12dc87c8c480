package schema

// Root is one directory or file the client exposes to the server. URIs are
// file:// only in the current revisions.
type Root struct {
	URI  string `json:"uri"`            // Location, file:// scheme
	Name string `json:"name,omitempty"` // Optional display name
}

// ListRootsResult is the client's response to a roots/list request.
type ListRootsResult struct {
	Meta  map[string]interface{} `json:"_meta,omitempty"`
	Roots []Root                 `json:"roots"`
}
