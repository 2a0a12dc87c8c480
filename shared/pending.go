package shared

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// CancelOutcome reports what cancelling an in-flight request achieved.
type CancelOutcome int

const (
	CancelOutcomeCancelled CancelOutcome = iota
	CancelOutcomeAlreadyCancelled
	CancelOutcomeAlreadyCompleted
	CancelOutcomeNotCancellable
	CancelOutcomeNotFound
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelOutcomeCancelled:
		return "cancelled"
	case CancelOutcomeAlreadyCancelled:
		return "already_cancelled"
	case CancelOutcomeAlreadyCompleted:
		return "already_completed"
	case CancelOutcomeNotCancellable:
		return "not_cancellable"
	default:
		return "not_found"
	}
}

type callState int

const (
	callPending callState = iota
	callCompleted
	callCancelled
)

type callDelivery struct {
	msg *Message
	err error
}

// PendingCall tracks one request awaiting its response. Delivery happens
// through a single-slot queue, so resolving never blocks the receive loop
// even when the waiter already gave up.
type PendingCall struct {
	ID          schema.RequestID
	Method      string
	StartedAt   time.Time
	Cancellable bool

	ch    chan callDelivery
	state callState // guarded by the owning table's mutex
}

// Deliveries returns the single-slot queue the response arrives on.
func (pc *PendingCall) Deliveries() <-chan callDelivery {
	return pc.ch
}

// Unpack splits a delivery into its message and error halves.
func (d callDelivery) Unpack() (*Message, error) {
	return d.msg, d.err
}

// CallTable correlates responses with the requests that are waiting for
// them. Recently finished ids are remembered so a cancel attempt can tell
// "already done" apart from "never existed".
type CallTable struct {
	mu     sync.Mutex
	calls  map[string]*PendingCall
	done   map[string]callState
	order  []string
	logger *zap.Logger
}

// tombstoneLimit bounds the finished-call memory.
const tombstoneLimit = 512

func NewCallTable(logger *zap.Logger) *CallTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallTable{
		calls:  make(map[string]*PendingCall),
		done:   make(map[string]callState),
		logger: logger,
	}
}

// Register adds a pending call for the given request id.
func (t *CallTable) Register(id schema.RequestID, method string, cancellable bool) *PendingCall {
	pc := &PendingCall{
		ID:          id,
		Method:      method,
		StartedAt:   time.Now(),
		Cancellable: cancellable,
		ch:          make(chan callDelivery, 1),
		state:       callPending,
	}

	t.mu.Lock()
	t.calls[id.Key()] = pc
	t.logger.Debug("registered pending call",
		zap.String("message_id", id.String()),
		zap.String("method", method),
		zap.Int("pending_len", len(t.calls)))
	t.mu.Unlock()
	return pc
}

// Resolve delivers a response to its waiter. Unknown or late ids are
// dropped, which is the required behavior for responses that arrive after a
// timeout already failed the call.
func (t *CallTable) Resolve(msg *Message) bool {
	if msg.ID.IsEmpty() {
		t.logger.Error("response without id")
		return false
	}
	key := msg.ID.Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	pc, exists := t.calls[key]
	if !exists {
		t.logger.Warn("dropping response with no pending call",
			zap.String("message_id", msg.ID.String()))
		return false
	}
	t.finishLocked(key, pc, callCompleted, callDelivery{msg: msg})
	return true
}

// Fail delivers an error to a single waiter, for example when the write
// carrying its request never made it out.
func (t *CallTable) Fail(id schema.RequestID, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.Key()
	pc, exists := t.calls[key]
	if !exists {
		return false
	}
	t.finishLocked(key, pc, callCompleted, callDelivery{err: err})
	return true
}

// DrainAll fails every pending call with the same error. Used when the
// transport dies or shuts down; queues are never closed, the error is
// delivered as a value so racing waiters always get something to read.
func (t *CallTable) DrainAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, pc := range t.calls {
		t.finishLocked(key, pc, callCompleted, callDelivery{err: err})
		n++
	}
	if n > 0 {
		t.logger.Debug("drained pending calls", zap.Int("count", n), zap.Error(err))
	}
	return n
}

// Cancel fails the waiter with ErrRequestCancelled and reports what state
// the call was in.
func (t *CallTable) Cancel(id schema.RequestID) CancelOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.Key()

	if pc, exists := t.calls[key]; exists {
		if !pc.Cancellable {
			return CancelOutcomeNotCancellable
		}
		t.finishLocked(key, pc, callCancelled, callDelivery{err: ErrRequestCancelled})
		return CancelOutcomeCancelled
	}

	switch t.done[key] {
	case callCancelled:
		return CancelOutcomeAlreadyCancelled
	case callCompleted:
		return CancelOutcomeAlreadyCompleted
	default:
		return CancelOutcomeNotFound
	}
}

// MarkTimedOut removes a call whose waiter gave up and reports whether it
// was still pending. The client sends a cancellation notification only when
// this returns true, so a response racing the timeout never produces a stray
// notification. The id is remembered as cancelled.
func (t *CallTable) MarkTimedOut(id schema.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.Key()
	pc, exists := t.calls[key]
	if !exists {
		return false
	}
	t.finishLocked(key, pc, callCancelled, callDelivery{err: ErrRequestCancelled})
	return true
}

// Len returns the number of calls still waiting.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *CallTable) finishLocked(key string, pc *PendingCall, state callState, d callDelivery) {
	if pc.state != callPending {
		return
	}
	pc.state = state
	delete(t.calls, key)
	t.rememberLocked(key, state)
	// Buffered to 1 and guarded by state, the send cannot block.
	select {
	case pc.ch <- d:
	default:
		t.logger.Error("pending call delivery slot occupied", zap.String("message_id", key))
	}
}

func (t *CallTable) rememberLocked(key string, state callState) {
	if _, exists := t.done[key]; !exists {
		t.order = append(t.order, key)
	}
	t.done[key] = state
	for len(t.order) > tombstoneLimit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.done, oldest)
	}
}
