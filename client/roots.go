package client

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// rootSet holds the filesystem roots exposed through roots/list.
type rootSet struct {
	mu    sync.Mutex
	roots []schema.Root
}

func newRootSet(paths []string) *rootSet {
	rs := &rootSet{}
	for _, p := range paths {
		rs.roots = append(rs.roots, rootFromPath(p))
	}
	return rs
}

// rootFromPath builds a file:// root from a path or passes an existing URI
// through. The basename serves as the display name.
func rootFromPath(p string) schema.Root {
	uri := p
	if !strings.HasPrefix(p, "file://") {
		uri = "file://" + p
	}
	return schema.Root{
		URI:  uri,
		Name: filepath.Base(strings.TrimPrefix(uri, "file://")),
	}
}

func (rs *rootSet) listResult() schema.ListRootsResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]schema.Root, len(rs.roots))
	copy(out, rs.roots)
	return schema.ListRootsResult{Roots: out}
}

// add reports whether the root was new.
func (rs *rootSet) add(root schema.Root) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.roots {
		if r.URI == root.URI {
			return false
		}
	}
	rs.roots = append(rs.roots, root)
	return true
}

// remove reports whether the root was present.
func (rs *rootSet) remove(uri string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, r := range rs.roots {
		if r.URI == uri {
			rs.roots = append(rs.roots[:i], rs.roots[i+1:]...)
			return true
		}
	}
	return false
}

func (rs *rootSet) set(paths []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.roots = rs.roots[:0]
	for _, p := range paths {
		rs.roots = append(rs.roots, rootFromPath(p))
	}
}

// Roots returns the currently exposed roots.
func (c *Client) Roots() []schema.Root {
	return c.roots.listResult().Roots
}

// SetRoots replaces the exposed roots and announces the change.
func (c *Client) SetRoots(ctx context.Context, paths []string) error {
	c.roots.set(paths)
	return c.notifyRootsChanged(ctx)
}

// AddRoot exposes an additional root. Adding a known root is a no-op.
func (c *Client) AddRoot(ctx context.Context, path string) error {
	if !c.roots.add(rootFromPath(path)) {
		return nil
	}
	return c.notifyRootsChanged(ctx)
}

// RemoveRoot withdraws a root. Removing an unknown root is a no-op.
func (c *Client) RemoveRoot(ctx context.Context, path string) error {
	if !c.roots.remove(rootFromPath(path).URI) {
		return nil
	}
	return c.notifyRootsChanged(ctx)
}

func (c *Client) notifyRootsChanged(ctx context.Context) error {
	if c.Status() != StatusReady {
		return nil
	}
	return c.notify(ctx, "notifications/roots/list_changed", nil)
}
