package model

// StreamingResponseBody is the sentinel ResponseBody stored for a
// successfully forwarded streaming request, in place of the (large and
// unbounded) actual SSE payload.
const StreamingResponseBody = "[Streaming Response]"

// RequestLog is an append-only audit record written once per inbound
// request (or once per upstream attempt, for forwarded requests that are
// retried). Rows are never updated or deleted outside of retention pruning.
type RequestLog struct {
	ID             string   `gorm:"type:varchar(36);primaryKey" json:"id"`
	ApiKeyID       string   `gorm:"type:varchar(36);index" json:"api_key_id"`
	Method         string   `gorm:"type:varchar(10);not null" json:"method"`
	Path           string   `gorm:"type:varchar(1024);not null" json:"path"`
	StatusCode     int      `gorm:"not null" json:"status_code"`
	ResponseTimeMs int64    `gorm:"not null" json:"response_time_ms"`
	RequestBody    *string  `gorm:"type:text" json:"request_body"`
	ResponseBody   *string  `gorm:"type:text" json:"response_body"`
	CreatedAt      JSONTime `gorm:"not null;index" json:"created_at"`
}

func (RequestLog) TableName() string { return "request_logs" }
