// Package auditlog appends RequestLog rows for every inbound request:
// authentication failures, handler-level rejections (bad routes, malformed
// bodies), and forwarded upstream attempts. Rows are append-only; nothing
// in this package ever updates or deletes one (retention pruning lives in
// internal/retention and is a separate concern).
package auditlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gemkeyproxy/internal/model"
)

// Config bounds how much of a request/response body gets persisted.
// Truncation is optional; MaxBodyBytes of 0 means "no limit".
type Config struct {
	MaxBodyBytes int
}

// Log is the AuditLog component.
type Log struct {
	db  *gorm.DB
	cfg Config
}

func New(db *gorm.DB, cfg Config) *Log {
	return &Log{db: db, cfg: cfg}
}

// errorCode maps an HTTP status code to the Gemini-style
// {code, message, status} envelope fields used both in the synthetic
// rejection response body and in the audit row.
func errorCode(status int) (code, message string) {
	switch status {
	case 400:
		return "INVALID_ARGUMENT", "Request payload is invalid."
	case 401:
		return "UNAUTHENTICATED", "Request is missing valid authentication credentials."
	case 403:
		return "PERMISSION_DENIED", "The caller does not have permission to perform this operation."
	case 404:
		return "NOT_FOUND", "The requested resource was not found."
	case 500:
		return "INTERNAL", "An internal error occurred."
	default:
		return "UNKNOWN", "An unknown error occurred."
	}
}

// ErrorEnvelope builds the synthetic JSON body returned to the client for
// a given failing status code, matching the Gemini API's own error shape
// so client SDKs parse it the same way whether the rejection happened here
// or upstream.
func ErrorEnvelope(status int) map[string]interface{} {
	code, message := errorCode(status)
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"status":  code,
		},
	}
}

// AppendAuthError records an InboundAuth rejection. There is no api key
// associated with an auth failure, response_time_ms is always 0 (the
// request never reached the Forwarder), and the response body is the
// synthetic error envelope.
func (l *Log) AppendAuthError(method, path string, status int, requestBody *string) error {
	return l.append(model.RequestLog{
		ApiKeyID:       "",
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: 0,
		RequestBody:    truncate(requestBody, l.cfg.MaxBodyBytes),
		ResponseBody:   encodeEnvelope(status),
	})
}

// AppendHandlerError records a failure surfaced by the Router itself: a bad
// route shape or invalid body (before any upstream attempt), or a fatal
// Forwarder error such as no active keys or exhausted retries.
func (l *Log) AppendHandlerError(method, path string, status int, requestBody *string, elapsed time.Duration) error {
	return l.append(model.RequestLog{
		ApiKeyID:       "",
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: elapsed.Milliseconds(),
		RequestBody:    truncate(requestBody, l.cfg.MaxBodyBytes),
		ResponseBody:   encodeEnvelope(status),
	})
}

// AppendForwarderAttempt records one upstream attempt, successful or not.
// streaming=true substitutes the sentinel response body for a successful
// attempt instead of persisting the (unbounded) SSE payload.
func (l *Log) AppendForwarderAttempt(apiKeyID, method, path string, status int, elapsed time.Duration, requestBody, responseBody *string, streaming bool) error {
	respBody := truncate(responseBody, l.cfg.MaxBodyBytes)
	if streaming && status >= 200 && status < 300 {
		sentinel := model.StreamingResponseBody
		respBody = &sentinel
	}
	return l.append(model.RequestLog{
		ApiKeyID:       apiKeyID,
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: elapsed.Milliseconds(),
		RequestBody:    truncate(requestBody, l.cfg.MaxBodyBytes),
		ResponseBody:   respBody,
	})
}

func (l *Log) append(entry model.RequestLog) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = model.NewJSONTime(time.Now().UTC())
	if err := l.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit log entry: %w", err)
	}
	return nil
}

func truncate(body *string, max int) *string {
	if body == nil || max <= 0 || len(*body) <= max {
		return body
	}
	t := (*body)[:max]
	return &t
}

func encodeEnvelope(status int) *string {
	code, message := errorCode(status)
	s := fmt.Sprintf(`{"error":{"code":%q,"message":%q,"status":%q}}`, code, message, code)
	return &s
}
