package client

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// Registry owns a set of named clients. Its lifetime belongs to the
// application entry point; nothing here is process-global.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	defs    map[string]config.Definition
	opts    map[string][]Option
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		clients: make(map[string]*Client),
		defs:    make(map[string]config.Definition),
		opts:    make(map[string][]Option),
	}
}

// Add builds a client from the definition and, unless the definition says
// otherwise, connects it. Names are unique. The definition is normalized
// before it is stored so a later Apply with the same input compares equal.
func (r *Registry) Add(ctx context.Context, def config.Definition, opts ...Option) (*Client, error) {
	def.Normalize()
	r.mu.Lock()
	if _, exists := r.clients[def.Name]; exists {
		r.mu.Unlock()
		return nil, &shared.ConfigurationError{Field: "name", Reason: fmt.Sprintf("client %q already registered", def.Name)}
	}
	r.mu.Unlock()

	c, err := New(def, opts...)
	if err != nil {
		return nil, err
	}
	if def.AutoStart() {
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	r.mu.Lock()
	if _, exists := r.clients[def.Name]; exists {
		r.mu.Unlock()
		_ = c.Close()
		return nil, &shared.ConfigurationError{Field: "name", Reason: fmt.Sprintf("client %q already registered", def.Name)}
	}
	r.clients[def.Name] = c
	r.defs[def.Name] = def
	r.opts[def.Name] = opts
	r.mu.Unlock()

	r.logger.Info("Registered MCP client",
		zap.String("name", def.Name), zap.String("transport", def.Transport))
	return c, nil
}

// Get returns a registered client by name.
func (r *Registry) Get(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names lists registered client names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Remove closes and forgets a client.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	c, ok := r.clients[name]
	delete(r.clients, name)
	delete(r.defs, name)
	delete(r.opts, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.logger.Info("Removing MCP client", zap.String("name", name))
	return c.Close()
}

// CloseAll tears every client down and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.defs = make(map[string]config.Definition)
	r.opts = make(map[string][]Option)
	r.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Apply reconciles the registry against a fresh definition set: unknown
// names are added, missing names are closed, changed definitions are
// rebuilt. Construction options given at Add time carry over to rebuilds.
func (r *Registry) Apply(ctx context.Context, defs []config.Definition) error {
	wanted := make(map[string]config.Definition, len(defs))
	for _, def := range defs {
		def.Normalize()
		wanted[def.Name] = def
	}

	r.mu.RLock()
	current := make(map[string]config.Definition, len(r.defs))
	for name, def := range r.defs {
		current[name] = def
	}
	r.mu.RUnlock()

	var errs []error
	for name := range current {
		if _, keep := wanted[name]; !keep {
			if err := r.Remove(name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for name, def := range wanted {
		existing, known := current[name]
		if known && reflect.DeepEqual(existing, def) {
			continue
		}
		opts := r.optionsFor(name)
		if known {
			r.logger.Info("Client definition changed, rebuilding", zap.String("name", name))
			if err := r.Remove(name); err != nil {
				errs = append(errs, err)
			}
		}
		if _, err := r.Add(ctx, def, opts...); err != nil {
			errs = append(errs, fmt.Errorf("apply %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) optionsFor(name string) []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts[name]
}

// WatchFile reloads the registry whenever the config file changes on disk.
// It blocks until the context ends, mirroring config.File.Watch.
func (r *Registry) WatchFile(ctx context.Context, f *config.File) error {
	return f.Watch(ctx, func(defs []config.Definition) {
		if err := r.Apply(ctx, defs); err != nil {
			r.logger.Warn("Config reload left errors", zap.Error(err))
		}
	})
}

// ResourceHandle is a weak reference to a resource: the owning client's
// name plus the resource URI. Holding one never pins a client in memory.
type ResourceHandle struct {
	ClientID string
	URI      string
}

// ReadHandle resolves a handle through the registry and reads the resource.
func (r *Registry) ReadHandle(ctx context.Context, h ResourceHandle) (*schema.ReadResourceResult, error) {
	c, ok := r.Get(h.ClientID)
	if !ok {
		return nil, &shared.ResourceError{URI: h.URI, Reason: fmt.Sprintf("no client named %q", h.ClientID)}
	}
	return c.ReadResource(ctx, h.URI)
}
