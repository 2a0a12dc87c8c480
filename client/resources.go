package client

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// subscriptionSet tracks the URIs with active update subscriptions. It has
// its own lock so subscription churn never contends with cache refreshes.
type subscriptionSet struct {
	mu   sync.Mutex
	uris map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{uris: make(map[string]struct{})}
}

// add reports whether the URI was newly recorded.
func (s *subscriptionSet) add(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uris[uri]; ok {
		return false
	}
	s.uris[uri] = struct{}{}
	return true
}

// remove reports whether the URI was present.
func (s *subscriptionSet) remove(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uris[uri]; !ok {
		return false
	}
	delete(s.uris, uri)
	return true
}

func (s *subscriptionSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.uris))
	for uri := range s.uris {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

type resourceCache struct {
	mu      sync.RWMutex
	byName  map[string]schema.Resource
	byURI   map[string]string // uri -> name
	order   []string
	fetched bool
}

func newResourceCache() *resourceCache {
	return &resourceCache{
		byName: make(map[string]schema.Resource),
		byURI:  make(map[string]string),
	}
}

func (rc *resourceCache) replace(resources []schema.Resource) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.byName = make(map[string]schema.Resource, len(resources))
	rc.byURI = make(map[string]string, len(resources))
	rc.order = rc.order[:0]
	for _, r := range resources {
		if _, dup := rc.byName[r.Name]; !dup {
			rc.order = append(rc.order, r.Name)
		}
		rc.byName[r.Name] = r
		rc.byURI[r.URI] = r.Name
	}
	rc.fetched = true
}

func (rc *resourceCache) reset() {
	rc.mu.Lock()
	rc.byName = make(map[string]schema.Resource)
	rc.byURI = make(map[string]string)
	rc.order = nil
	rc.fetched = false
	rc.mu.Unlock()
}

// invalidateURI evicts a single resource after an update notification. The
// next lookup refetches the list.
func (rc *resourceCache) invalidateURI(uri string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	name, ok := rc.byURI[uri]
	if !ok {
		return
	}
	delete(rc.byURI, uri)
	delete(rc.byName, name)
	for i, n := range rc.order {
		if n == name {
			rc.order = append(rc.order[:i], rc.order[i+1:]...)
			break
		}
	}
	rc.fetched = false
}

func (rc *resourceCache) get(name string) (schema.Resource, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.byName[name]
	return r, ok
}

func (rc *resourceCache) getByURI(uri string) (schema.Resource, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	name, ok := rc.byURI[uri]
	if !ok {
		return schema.Resource{}, false
	}
	r, ok := rc.byName[name]
	return r, ok
}

func (rc *resourceCache) list() ([]schema.Resource, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if !rc.fetched {
		return nil, false
	}
	out := make([]schema.Resource, 0, len(rc.order))
	for _, name := range rc.order {
		out = append(out, rc.byName[name])
	}
	return out, true
}

// ListResources returns every resource the server announces, following
// pagination transparently and caching the result.
func (c *Client) ListResources(ctx context.Context, opts ...ListOption) ([]schema.Resource, error) {
	settings := newListSettings(opts)
	if settings.cursor != nil {
		var page schema.ListResourcesResult
		params := schema.ListResourcesRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: settings.cursor}}
		if err := c.callInto(ctx, "resources/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		return page.Resources, nil
	}
	if !settings.refresh {
		if cached, ok := c.resources.list(); ok {
			return cached, nil
		}
	}

	var all []schema.Resource
	var cursor *schema.Cursor
	for {
		var page schema.ListResourcesResult
		params := schema.ListResourcesRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: cursor}}
		if err := c.callInto(ctx, "resources/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.resources.replace(all)
	return all, nil
}

// Resource looks a resource up by its programmatic name.
func (c *Client) Resource(ctx context.Context, name string) (schema.Resource, error) {
	if r, ok := c.resources.get(name); ok {
		return r, nil
	}
	if _, err := c.ListResources(ctx); err != nil {
		return schema.Resource{}, err
	}
	if r, ok := c.resources.get(name); ok {
		return r, nil
	}
	return schema.Resource{}, &shared.ResourceNotFoundError{Name: name}
}

// ResourceByURI looks a resource up by location.
func (c *Client) ResourceByURI(ctx context.Context, uri string) (schema.Resource, error) {
	if r, ok := c.resources.getByURI(uri); ok {
		return r, nil
	}
	if _, err := c.ListResources(ctx); err != nil {
		return schema.Resource{}, err
	}
	if r, ok := c.resources.getByURI(uri); ok {
		return r, nil
	}
	return schema.Resource{}, &shared.ResourceNotFoundError{Name: uri}
}

// ReadResource fetches the contents behind a URI.
func (c *Client) ReadResource(ctx context.Context, uri string, opts ...CallOption) (*schema.ReadResourceResult, error) {
	var result schema.ReadResourceResult
	params := schema.ReadResourceRequestParams{URI: uri}
	if err := c.callInto(ctx, "resources/read", params, &result, c.newCallSettings(opts)); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubscribeResource registers for update notifications on a URI. The server
// must advertise the subscribe capability. Subscribing twice is a no-op.
func (c *Client) SubscribeResource(ctx context.Context, uri string, opts ...CallOption) error {
	caps := c.ServerCapabilities()
	if caps == nil || caps.Resources == nil || !caps.Resources.Subscribe {
		return &shared.ResourceError{URI: uri, Reason: "server does not support resource subscriptions"}
	}
	if !c.subs.add(uri) {
		c.logger.Debug("Already subscribed to resource", zap.String("uri", uri))
		return nil
	}
	params := schema.SubscribeRequestParams{URI: uri}
	if _, err := c.call(ctx, "resources/subscribe", params, c.newCallSettings(opts)); err != nil {
		c.subs.remove(uri)
		return err
	}
	return nil
}

// UnsubscribeResource is the inverse of SubscribeResource. Unsubscribing
// from a URI that was never subscribed is a no-op.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string, opts ...CallOption) error {
	if !c.subs.remove(uri) {
		return nil
	}
	params := schema.UnsubscribeRequestParams{URI: uri}
	if _, err := c.call(ctx, "resources/unsubscribe", params, c.newCallSettings(opts)); err != nil {
		c.subs.add(uri)
		return err
	}
	return nil
}

// SubscribedResources lists the URIs with active update subscriptions.
func (c *Client) SubscribedResources() []string {
	return c.subs.list()
}
