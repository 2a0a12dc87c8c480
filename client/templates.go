package client

import (
	"context"
	"strings"
	"sync"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

type templateCache struct {
	mu      sync.RWMutex
	byName  map[string]schema.ResourceTemplate
	order   []string
	fetched bool
}

func newTemplateCache() *templateCache {
	return &templateCache{byName: make(map[string]schema.ResourceTemplate)}
}

func (tc *templateCache) replace(templates []schema.ResourceTemplate) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.byName = make(map[string]schema.ResourceTemplate, len(templates))
	tc.order = tc.order[:0]
	for _, t := range templates {
		if _, dup := tc.byName[t.Name]; !dup {
			tc.order = append(tc.order, t.Name)
		}
		tc.byName[t.Name] = t
	}
	tc.fetched = true
}

func (tc *templateCache) reset() {
	tc.mu.Lock()
	tc.byName = make(map[string]schema.ResourceTemplate)
	tc.order = nil
	tc.fetched = false
	tc.mu.Unlock()
}

func (tc *templateCache) get(name string) (schema.ResourceTemplate, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	t, ok := tc.byName[name]
	return t, ok
}

func (tc *templateCache) list() ([]schema.ResourceTemplate, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if !tc.fetched {
		return nil, false
	}
	out := make([]schema.ResourceTemplate, 0, len(tc.order))
	for _, name := range tc.order {
		out = append(out, tc.byName[name])
	}
	return out, true
}

// ListResourceTemplates returns every URI template the server announces,
// following pagination transparently and caching the result.
func (c *Client) ListResourceTemplates(ctx context.Context, opts ...ListOption) ([]schema.ResourceTemplate, error) {
	settings := newListSettings(opts)
	if settings.cursor != nil {
		var page schema.ListResourceTemplatesResult
		params := schema.ListResourceTemplatesRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: settings.cursor}}
		if err := c.callInto(ctx, "resources/templates/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		return page.ResourceTemplates, nil
	}
	if !settings.refresh {
		if cached, ok := c.templates.list(); ok {
			return cached, nil
		}
	}

	var all []schema.ResourceTemplate
	var cursor *schema.Cursor
	for {
		var page schema.ListResourceTemplatesResult
		params := schema.ListResourceTemplatesRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: cursor}}
		if err := c.callInto(ctx, "resources/templates/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		all = append(all, page.ResourceTemplates...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.templates.replace(all)
	return all, nil
}

// ResourceTemplate looks a template up by its programmatic name.
func (c *Client) ResourceTemplate(ctx context.Context, name string) (schema.ResourceTemplate, error) {
	if t, ok := c.templates.get(name); ok {
		return t, nil
	}
	if _, err := c.ListResourceTemplates(ctx); err != nil {
		return schema.ResourceTemplate{}, err
	}
	if t, ok := c.templates.get(name); ok {
		return t, nil
	}
	return schema.ResourceTemplate{}, &shared.ResourceNotFoundError{Name: name}
}

// TemplateContent expands a template against the argument map and reads the
// resulting resource. Expansion happens locally; only the expanded URI
// crosses the wire.
func (c *Client) TemplateContent(ctx context.Context, name string, args map[string]string, opts ...CallOption) (*schema.ReadResourceResult, error) {
	tmpl, err := c.ResourceTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	uri, err := expandURITemplate(tmpl.URITemplate, args)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri, opts...)
}

// CompleteTemplate asks the server for completion suggestions for one
// template argument.
func (c *Client) CompleteTemplate(ctx context.Context, name, argument, value string, opts ...CompleteOption) (*schema.CompletionInfo, error) {
	tmpl, err := c.ResourceTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	ref := schema.CompletionReference{Type: schema.CompletionRefResource, URI: tmpl.URITemplate}
	return c.Complete(ctx, ref, argument, value, opts...)
}

// expandURITemplate substitutes {variable} expressions per RFC 6570 level
// 1: simple string expansion with all reserved characters percent-encoded.
// Missing arguments and malformed expressions are TemplateErrors.
func expandURITemplate(template string, args map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return "", &shared.TemplateError{Template: template, Reason: "unmatched '}'"}
			}
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		rest = rest[open+1:]
		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			return "", &shared.TemplateError{Template: template, Reason: "unmatched '{'"}
		}
		name := rest[:closing]
		rest = rest[closing+1:]
		if name == "" {
			return "", &shared.TemplateError{Template: template, Reason: "empty expression"}
		}
		if strings.ContainsAny(name, "{}") {
			return "", &shared.TemplateError{Template: template, Reason: "nested expression"}
		}
		value, ok := args[name]
		if !ok {
			return "", &shared.TemplateError{Template: template, Reason: "missing argument " + name}
		}
		b.WriteString(pctEncode(value))
	}
}

// pctEncode escapes everything outside the RFC 3986 unreserved set. Level 1
// expansion never passes reserved characters through.
func pctEncode(s string) string {
	const upperhex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~' {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[ch>>4])
		b.WriteByte(upperhex[ch&0xf])
	}
	return b.String()
}
