package client

import "github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"

// listSettings shape one list operation. The default serves from cache when
// populated and otherwise walks every page.
type listSettings struct {
	refresh  bool
	cursor   *schema.Cursor
	callOpts []CallOption
}

// ListOption adjusts a single list operation.
type ListOption func(*listSettings)

// WithRefresh bypasses the cache and repopulates it from the server.
func WithRefresh() ListOption {
	return func(s *listSettings) { s.refresh = true }
}

// WithCursor fetches exactly one page starting at the given cursor. The
// cache is neither consulted nor updated; callers drive pagination
// themselves through the result's NextCursor.
func WithCursor(cursor string) ListOption {
	return func(s *listSettings) {
		cur := schema.Cursor(cursor)
		s.cursor = &cur
	}
}

// WithCallOptions applies per-request options, such as a timeout override,
// to each page fetch of a list operation.
func WithCallOptions(opts ...CallOption) ListOption {
	return func(s *listSettings) { s.callOpts = append(s.callOpts, opts...) }
}

func newListSettings(opts []ListOption) listSettings {
	var s listSettings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
