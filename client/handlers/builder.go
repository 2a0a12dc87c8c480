package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Guard screens a request before the execute function runs. Returning
// false short-circuits the handler with a denial carrying the reason.
type Guard func(req Request) (ok bool, reason string)

type optionSpec struct {
	name     string
	required bool
	def      interface{}
	hasDef   bool
}

// Builder assembles a Handler from an execute function plus declarative
// options, guards and lifecycle hooks.
type Builder struct {
	name    string
	logger  *zap.Logger
	options []optionSpec
	guards  []Guard
	before  func(Request)
	after   func(Request, Decision)
	onTime  func(Request)
	timeout time.Duration
	execute Func
}

// NewBuilder starts a builder for a named handler. The name only shows up
// in logs and error text.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, logger: zap.NewNop()}
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// RequiredOption declares an option callers must supply.
func (b *Builder) RequiredOption(name string) *Builder {
	b.options = append(b.options, optionSpec{name: name, required: true})
	return b
}

// Option declares an option with a default applied when absent.
func (b *Builder) Option(name string, def interface{}) *Builder {
	b.options = append(b.options, optionSpec{name: name, def: def, hasDef: true})
	return b
}

// Guard appends a screen; guards run in declaration order.
func (b *Builder) Guard(g Guard) *Builder {
	if g != nil {
		b.guards = append(b.guards, g)
	}
	return b
}

// BeforeExecute registers a hook that runs after guards pass.
func (b *Builder) BeforeExecute(fn func(Request)) *Builder {
	b.before = fn
	return b
}

// AfterExecute registers a hook that observes the final decision.
func (b *Builder) AfterExecute(fn func(Request, Decision)) *Builder {
	b.after = fn
	return b
}

// OnTimeout registers a hook fired when async execution misses its
// deadline.
func (b *Builder) OnTimeout(fn func(Request)) *Builder {
	b.onTime = fn
	return b
}

// Async runs the execute function on its own goroutine with a deadline;
// a decision that does not arrive in time fails closed.
func (b *Builder) Async(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// Execute sets the decision function.
func (b *Builder) Execute(fn Func) *Builder {
	b.execute = fn
	return b
}

// Build validates the configuration and returns the handler.
func (b *Builder) Build() (Handler, error) {
	if b.execute == nil {
		return nil, fmt.Errorf("handler %q has no execute function", b.name)
	}
	seen := make(map[string]bool, len(b.options))
	for _, opt := range b.options {
		if seen[opt.name] {
			return nil, fmt.Errorf("handler %q declares option %q twice", b.name, opt.name)
		}
		seen[opt.name] = true
	}
	h := &builtHandler{
		name:    b.name,
		logger:  b.logger.With(zap.String("handler", b.name)),
		options: append([]optionSpec(nil), b.options...),
		guards:  append([]Guard(nil), b.guards...),
		before:  b.before,
		after:   b.after,
		onTime:  b.onTime,
		timeout: b.timeout,
		execute: b.execute,
	}
	return h, nil
}

type builtHandler struct {
	name    string
	logger  *zap.Logger
	options []optionSpec
	guards  []Guard
	before  func(Request)
	after   func(Request, Decision)
	onTime  func(Request)
	timeout time.Duration
	execute Func
}

func (h *builtHandler) Execute(ctx context.Context, req Request) Decision {
	decision := h.run(ctx, req)
	if h.after != nil {
		h.after(req, decision)
	}
	return decision
}

func (h *builtHandler) run(ctx context.Context, req Request) Decision {
	resolved, err := h.resolveOptions(req.Options)
	if err != nil {
		h.logger.Warn("Rejecting request, options incomplete", zap.Error(err))
		return Deny(err.Error())
	}
	req.Options = resolved

	for _, guard := range h.guards {
		if ok, reason := guard(req); !ok {
			if reason == "" {
				reason = "request rejected by guard"
			}
			h.logger.Debug("Guard rejected request", zap.String("reason", reason))
			return Deny(reason)
		}
	}

	if h.before != nil {
		h.before(req)
	}

	if h.timeout <= 0 {
		return h.invoke(ctx, req)
	}

	done := make(chan Decision, 1)
	go func() {
		done <- h.invoke(ctx, req)
	}()
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case decision := <-done:
		return decision
	case <-timer.C:
		h.logger.Warn("Handler timed out", zap.Duration("timeout", h.timeout))
		if h.onTime != nil {
			h.onTime(req)
		}
		return Deny(fmt.Sprintf("handler %q timed out after %s", h.name, h.timeout))
	case <-ctx.Done():
		return Deny("request context ended before a decision was made")
	}
}

// invoke runs the execute function with panic containment; a panicking
// handler denies.
func (h *builtHandler) invoke(ctx context.Context, req Request) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Handler panicked", zap.Any("panic", r))
			decision = Deny(fmt.Sprintf("handler %q panicked", h.name))
		}
	}()
	return h.execute(ctx, req)
}

func (h *builtHandler) resolveOptions(given map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(given)+len(h.options))
	for k, v := range given {
		resolved[k] = v
	}
	for _, opt := range h.options {
		if _, ok := resolved[opt.name]; ok {
			continue
		}
		if opt.required {
			return nil, fmt.Errorf("missing required option %q", opt.name)
		}
		if opt.hasDef {
			resolved[opt.name] = opt.def
		}
	}
	return resolved, nil
}
