package transport

import (
	"context"
	"sync"
	"time"
)

// slidingWindow throttles outbound requests to at most limit sends per
// interval, counted over a sliding window of send timestamps.
type slidingWindow struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	sent     []time.Time
}

func newSlidingWindow(limit int, interval time.Duration) *slidingWindow {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &slidingWindow{limit: limit, interval: interval}
}

// Wait blocks until a send slot is available or the context ends, then
// records the send.
func (w *slidingWindow) Wait(ctx context.Context) error {
	if w == nil {
		return nil
	}
	for {
		wait := w.reserve()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve records the send and returns zero when it fits in the window,
// otherwise the time until the oldest recorded send expires.
func (w *slidingWindow) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.prune(now)
	if len(w.sent) < w.limit {
		w.sent = append(w.sent, now)
		return 0
	}
	return w.interval - now.Sub(w.sent[0])
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.interval)
	keep := 0
	for keep < len(w.sent) && !w.sent[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.sent = append(w.sent[:0], w.sent[keep:]...)
	}
}
