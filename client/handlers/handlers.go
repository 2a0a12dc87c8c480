// Package handlers is the pluggable decision framework the client runs
// for human-in-the-loop gates: tool-call approval, sampling guards and
// elicitation screens. A handler inspects a request and returns a
// Decision; anything that is not a well-formed Decision is treated as a
// denial, so a miswired handler can never wave a request through.
package handlers

import (
	"context"
	"time"
)

type decisionKind int

const (
	decisionDenied decisionKind = iota
	decisionApproved
	decisionDeferred
)

// Decision is the outcome of a handler: approved, denied with a reason,
// or deferred to an out-of-band approval identified by an id.
type Decision struct {
	kind    decisionKind
	reason  string
	id      string
	timeout time.Duration
}

// Approve builds an approval decision.
func Approve() Decision {
	return Decision{kind: decisionApproved}
}

// Deny builds a denial carrying the reason shown to the caller.
func Deny(reason string) Decision {
	return Decision{kind: decisionDenied, reason: reason}
}

// Defer parks the request on an approval id; the final decision arrives
// through a Registry within the given timeout.
func Defer(id string, timeout time.Duration) Decision {
	return Decision{kind: decisionDeferred, id: id, timeout: timeout}
}

func (d Decision) Approved() bool { return d.kind == decisionApproved }
func (d Decision) Denied() bool   { return d.kind == decisionDenied }

// Deferred reports the approval id and wait budget when the decision was
// deferred.
func (d Decision) Deferred() (id string, timeout time.Duration, ok bool) {
	if d.kind != decisionDeferred {
		return "", 0, false
	}
	return d.id, d.timeout, true
}

// Reason is the denial reason, empty for other decisions.
func (d Decision) Reason() string { return d.reason }

// Request is what a handler decides about.
type Request struct {
	// Method is the protocol operation being gated, e.g. "tools/call".
	Method string
	// Name identifies the subject, e.g. the tool name.
	Name string
	// Arguments are the caller-supplied parameters.
	Arguments map[string]interface{}
	// Options are resolved builder options (defaults applied).
	Options map[string]interface{}
}

// Handler decides whether a gated request may proceed.
type Handler interface {
	Execute(ctx context.Context, req Request) Decision
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, req Request) Decision

func (f Func) Execute(ctx context.Context, req Request) Decision { return f(ctx, req) }

// RawFunc is a loosely typed callback for hosts that wire approval
// dynamically. Its return value goes through Normalize, so anything but a
// Decision (a bare true included) counts as a denial.
type RawFunc func(ctx context.Context, req Request) interface{}

func (f RawFunc) Execute(ctx context.Context, req Request) Decision {
	return Normalize(f(ctx, req))
}

// Normalize maps an arbitrary handler return value onto a Decision.
// Only Decision values pass through; everything else fails closed.
func Normalize(v interface{}) Decision {
	switch d := v.(type) {
	case Decision:
		return d
	case *Decision:
		if d != nil {
			return *d
		}
	}
	return Deny("handler returned an unrecognized decision")
}
