package client

import (
	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// handleNotification routes one inbound notification. Notifications never
// fail a caller; undecodable payloads are logged at debug and dropped.
func (c *Client) handleNotification(msg *shared.Message) {
	method := shared.NilIfNil(msg.Method)
	switch method {
	case "notifications/cancelled":
		var params schema.CancelledNotificationParams
		if err := decodeParams(msg.Params, &params); err != nil {
			c.logger.Debug("Undecodable cancellation notification", zap.Error(err))
			return
		}
		c.dispatcher.cancelInbound(params.RequestID)

	case "notifications/progress":
		var params schema.ProgressNotificationParams
		if err := decodeParams(msg.Params, &params); err != nil {
			c.logger.Debug("Undecodable progress notification", zap.Error(err))
			return
		}
		if !c.progress.dispatch(params) {
			c.mu.RLock()
			unmatched := c.onProgressUnmatched
			c.mu.RUnlock()
			if unmatched != nil {
				unmatched(params)
			}
		}

	case "notifications/message":
		var params schema.LoggingMessageNotificationParams
		if err := decodeParams(msg.Params, &params); err != nil {
			c.logger.Debug("Undecodable logging notification", zap.Error(err))
			return
		}
		c.forwardLoggingMessage(params)

	case "notifications/resources/updated":
		var params schema.ResourceUpdatedNotificationParams
		if err := decodeParams(msg.Params, &params); err != nil {
			c.logger.Debug("Undecodable resource update notification", zap.Error(err))
			return
		}
		c.resources.invalidateURI(params.URI)
		c.mu.RLock()
		updated := c.onResourceUpdated
		c.mu.RUnlock()
		if updated != nil {
			updated(params.URI)
		}

	case "notifications/resources/list_changed":
		c.resources.reset()
		c.templates.reset()
		c.logger.Debug("Resource caches invalidated by server")
		c.mu.RLock()
		changed := c.onResourceListChanged
		c.mu.RUnlock()
		if changed != nil {
			changed()
		}

	case "notifications/tools/list_changed":
		c.tools.reset()
		c.logger.Debug("Tool cache invalidated by server")
		c.mu.RLock()
		changed := c.onToolListChanged
		c.mu.RUnlock()
		if changed != nil {
			changed()
		}

	case "notifications/prompts/list_changed":
		c.prompts.reset()
		c.logger.Debug("Prompt cache invalidated by server")
		c.mu.RLock()
		changed := c.onPromptListChanged
		c.mu.RUnlock()
		if changed != nil {
			changed()
		}

	case "notifications/tasks/status":
		var task schema.TaskStatusNotificationParams
		if err := decodeParams(msg.Params, &task); err != nil {
			c.logger.Debug("Undecodable task status notification", zap.Error(err))
			return
		}
		c.taskReg.Upsert(task)
		c.logger.Debug("Task status update",
			zap.String("task_id", task.TaskID),
			zap.String("status", string(task.Status)))

	case "notifications/elicitation/complete":
		var params schema.ElicitationCompleteNotificationParams
		if err := decodeParams(msg.Params, &params); err != nil {
			c.logger.Debug("Undecodable elicitation completion", zap.Error(err))
			return
		}
		c.logger.Debug("Out-of-band elicitation completed",
			zap.String("elicitation_id", params.ElicitationID))

	default:
		c.logger.Debug("Dropping unknown notification", zap.String("method", method))
	}
}

// forwardLoggingMessage applies the level filter set by logging/setLevel and
// hands the message to the user callback. Without a callback the message is
// mirrored into the client's own logger at debug.
func (c *Client) forwardLoggingMessage(params schema.LoggingMessageNotificationParams) {
	c.mu.RLock()
	min := c.minLogLevel
	forward := c.onLoggingMessage
	c.mu.RUnlock()

	if !params.Level.AtLeast(min) {
		return
	}
	if forward != nil {
		forward(params)
		return
	}
	c.logger.Debug("Server log message",
		zap.String("level", string(params.Level)),
		zap.String("logger", params.Logger),
		zap.ByteString("data", params.Data))
}
