package client

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// progressBoard matches notifications/progress to per-call subscribers.
// Tokens are issued by the request path and dropped when the call returns,
// so updates for finished calls fall through to the unmatched path.
type progressBoard struct {
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]func(schema.ProgressNotificationParams)
}

func newProgressBoard(logger *zap.Logger) *progressBoard {
	return &progressBoard{
		logger: logger,
		subs:   make(map[string]func(schema.ProgressNotificationParams)),
	}
}

func (b *progressBoard) register(token string, f func(schema.ProgressNotificationParams)) {
	b.mu.Lock()
	b.subs[token] = f
	b.mu.Unlock()
}

func (b *progressBoard) drop(token string) {
	b.mu.Lock()
	delete(b.subs, token)
	b.mu.Unlock()
}

// dispatch routes one progress update. It reports false when no subscriber
// owns the token.
func (b *progressBoard) dispatch(params schema.ProgressNotificationParams) bool {
	token := progressTokenKey(params.ProgressToken)
	b.mu.Lock()
	sub := b.subs[token]
	b.mu.Unlock()
	if sub == nil {
		b.logger.Debug("Dropping progress notification with unknown token",
			zap.String("progress_token", token))
		return false
	}
	sub(params)
	return true
}

// progressTokenKey canonicalizes a token for matching. The protocol allows
// strings and integers; JSON decoding hands integers back as float64.
func progressTokenKey(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
