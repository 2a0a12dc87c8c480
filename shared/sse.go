package shared

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"
)

// SSEEvent is one parsed server-sent event. Retry is the server's suggested
// reconnection delay, zero when the record carried none.
type SSEEvent struct {
	ID    string
	Event string
	Data  string
	Retry time.Duration
}

// ReadSSE reads a text/event-stream until EOF or context cancellation,
// calling handler for every complete event. Multi-line data is joined with
// newlines. A final event without a trailing blank line is still delivered
// on EOF.
func ReadSSE(ctx context.Context, reader io.Reader, handler func(SSEEvent)) error {
	br := bufio.NewReader(reader)
	var event SSEEvent
	var dataLines []string

	flush := func() {
		if event.Event == "" && len(dataLines) == 0 && event.ID == "" && event.Retry == 0 {
			return
		}
		event.Data = strings.Join(dataLines, "\n")
		if event.Event == "" {
			event.Event = "message"
		}
		handler(event)
		event = SSEEvent{}
		dataLines = nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				flush()
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// Comment line, keepalive.
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil && ms >= 0 {
				event.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}
