package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// resolution is the settled outcome of a deferred approval.
type resolution struct {
	approved bool
	reason   string
}

// Registry settles deferred decisions. A handler that returns
// Defer(id, timeout) parks its request here until some other part of the
// host calls Approve or Deny with the same id, or the timeout denies it.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan resolution
	settled map[string]resolution
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		waiters: make(map[string]chan resolution),
		settled: make(map[string]resolution),
	}
}

// Approve settles the approval id positively.
func (r *Registry) Approve(id string) {
	r.settle(id, resolution{approved: true})
}

// Deny settles the approval id negatively.
func (r *Registry) Deny(id string, reason string) {
	if reason == "" {
		reason = "approval was denied"
	}
	r.settle(id, resolution{reason: reason})
}

func (r *Registry) settle(id string, res resolution) {
	r.mu.Lock()
	waiter, waiting := r.waiters[id]
	if waiting {
		delete(r.waiters, id)
	} else {
		// Nobody is waiting yet; keep the outcome for a Wait that has
		// not arrived.
		r.settled[id] = res
	}
	r.mu.Unlock()

	if waiting {
		waiter <- res
	}
	r.logger.Debug("Approval settled",
		zap.String("approvalID", id), zap.Bool("approved", res.approved))
}

// Wait blocks until the approval id is settled, the timeout elapses or
// the context ends. Timeouts and context cancellation deny.
func (r *Registry) Wait(ctx context.Context, id string, timeout time.Duration) Decision {
	r.mu.Lock()
	if res, ok := r.settled[id]; ok {
		delete(r.settled, id)
		r.mu.Unlock()
		return res.decision()
	}
	waiter := make(chan resolution, 1)
	r.waiters[id] = waiter
	r.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case res := <-waiter:
		return res.decision()
	case <-deadline:
		r.abandon(id)
		r.logger.Warn("Deferred approval timed out", zap.String("approvalID", id))
		return Deny("approval timed out")
	case <-ctx.Done():
		r.abandon(id)
		return Deny("request ended before approval arrived")
	}
}

func (r *Registry) abandon(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

func (res resolution) decision() Decision {
	if res.approved {
		return Approve()
	}
	return Deny(res.reason)
}
