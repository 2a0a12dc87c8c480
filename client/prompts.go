package client

import (
	"context"
	"sync"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

type promptCache struct {
	mu      sync.RWMutex
	byName  map[string]schema.Prompt
	order   []string
	fetched bool
}

func newPromptCache() *promptCache {
	return &promptCache{byName: make(map[string]schema.Prompt)}
}

func (pc *promptCache) replace(prompts []schema.Prompt) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.byName = make(map[string]schema.Prompt, len(prompts))
	pc.order = pc.order[:0]
	for _, p := range prompts {
		if _, dup := pc.byName[p.Name]; !dup {
			pc.order = append(pc.order, p.Name)
		}
		pc.byName[p.Name] = p
	}
	pc.fetched = true
}

func (pc *promptCache) reset() {
	pc.mu.Lock()
	pc.byName = make(map[string]schema.Prompt)
	pc.order = nil
	pc.fetched = false
	pc.mu.Unlock()
}

func (pc *promptCache) get(name string) (schema.Prompt, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.byName[name]
	return p, ok
}

func (pc *promptCache) list() ([]schema.Prompt, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.fetched {
		return nil, false
	}
	out := make([]schema.Prompt, 0, len(pc.order))
	for _, name := range pc.order {
		out = append(out, pc.byName[name])
	}
	return out, true
}

// ListPrompts returns every prompt the server offers, following pagination
// transparently and caching the result.
func (c *Client) ListPrompts(ctx context.Context, opts ...ListOption) ([]schema.Prompt, error) {
	settings := newListSettings(opts)
	if settings.cursor != nil {
		var page schema.ListPromptsResult
		params := schema.ListPromptsRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: settings.cursor}}
		if err := c.callInto(ctx, "prompts/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		return page.Prompts, nil
	}
	if !settings.refresh {
		if cached, ok := c.prompts.list(); ok {
			return cached, nil
		}
	}

	var all []schema.Prompt
	var cursor *schema.Cursor
	for {
		var page schema.ListPromptsResult
		params := schema.ListPromptsRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: cursor}}
		if err := c.callInto(ctx, "prompts/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		all = append(all, page.Prompts...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.prompts.replace(all)
	return all, nil
}

// Prompt looks a prompt up by name.
func (c *Client) Prompt(ctx context.Context, name string) (schema.Prompt, error) {
	if p, ok := c.prompts.get(name); ok {
		return p, nil
	}
	if _, err := c.ListPrompts(ctx); err != nil {
		return schema.Prompt{}, err
	}
	if p, ok := c.prompts.get(name); ok {
		return p, nil
	}
	return schema.Prompt{}, &shared.PromptNotFoundError{Name: name}
}

// GetPrompt instantiates a prompt. Required arguments are checked locally
// before the request goes out.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string, opts ...CallOption) (*schema.GetPromptResult, error) {
	prompt, err := c.Prompt(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, arg := range prompt.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := args[arg.Name]; !ok {
			return nil, &shared.PromptError{Name: name, Reason: "missing required argument " + arg.Name}
		}
	}

	var result schema.GetPromptResult
	params := schema.GetPromptRequestParams{Name: name, Arguments: args}
	if err := c.callInto(ctx, "prompts/get", params, &result, c.newCallSettings(opts)); err != nil {
		return nil, err
	}
	return &result, nil
}

// CompletePrompt asks the server for completion suggestions for one prompt
// argument.
func (c *Client) CompletePrompt(ctx context.Context, name, argument, value string, opts ...CompleteOption) (*schema.CompletionInfo, error) {
	ref := schema.CompletionReference{Type: schema.CompletionRefPrompt, Name: name}
	return c.Complete(ctx, ref, argument, value, opts...)
}
