package schema

import "encoding/json"

// CancelledNotificationParams contains parameters for cancellation notifications.
type CancelledNotificationParams struct {
	Reason    string    `json:"reason,omitempty"` // Optional reason for cancellation
	RequestID RequestID `json:"requestId"`        // The ID of the request to cancel
}

// ProgressNotificationParams contains progress information.
type ProgressNotificationParams struct {
	Progress      float64     `json:"progress"`          // Current progress value
	ProgressToken interface{} `json:"progressToken"`     // Associated request token (string or integer)
	Total         *float64    `json:"total,omitempty"`   // Total progress required, if known
	Message       string      `json:"message,omitempty"` // Human readable progress detail (2025-03-26 and later)
}

// LoggingLevel represents the severity of a log message.
type LoggingLevel string

// Logging level constants, ordered per RFC 5424.
const (
	LoggingLevelEmergency LoggingLevel = "emergency"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelDebug     LoggingLevel = "debug"
)

var loggingSeverity = map[LoggingLevel]int{
	LoggingLevelEmergency: 0,
	LoggingLevelAlert:     1,
	LoggingLevelCritical:  2,
	LoggingLevelError:     3,
	LoggingLevelWarning:   4,
	LoggingLevelNotice:    5,
	LoggingLevelInfo:      6,
	LoggingLevelDebug:     7,
}

// IsValid reports whether the level is one of the RFC 5424 names.
func (l LoggingLevel) IsValid() bool {
	_, ok := loggingSeverity[l]
	return ok
}

// AtLeast reports whether l is at least as severe as min. Unknown levels are
// treated as least severe so filtering never drops messages silently.
func (l LoggingLevel) AtLeast(min LoggingLevel) bool {
	ls, ok := loggingSeverity[l]
	if !ok {
		ls = loggingSeverity[LoggingLevelDebug]
	}
	ms, ok := loggingSeverity[min]
	if !ok {
		ms = loggingSeverity[LoggingLevelDebug]
	}
	return ls <= ms
}

// LoggingMessageNotificationParams contains logging message parameters.
type LoggingMessageNotificationParams struct {
	Data   json.RawMessage `json:"data"`             // The data to be logged
	Level  LoggingLevel    `json:"level"`            // Message severity
	Logger string          `json:"logger,omitempty"` // Optional logger name
}

// SetLevelRequestParams contains parameters for log level setting.
type SetLevelRequestParams struct {
	Level LoggingLevel `json:"level"` // Desired logging level
}
