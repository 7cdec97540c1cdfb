// Package stats computes the usage-stats summary the admin UI displays:
// lifetime totals plus a "today" slice bounded by the most recent 15:00
// UTC+8 wall-clock boundary (the Gemini API's own daily quota reset time).
package stats

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"gemkeyproxy/internal/model"
)

var chinaStandardTime = time.FixedZone("CST", 8*60*60)

// TodayBoundary returns the most recent 15:00 UTC+8 instant at or before
// now, converted back to UTC.
func TodayBoundary(now time.Time) time.Time {
	local := now.In(chinaStandardTime)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, chinaStandardTime)
	if local.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary.UTC()
}

// KeyUsageToday is a single key's request count since the last boundary.
type KeyUsageToday struct {
	ApiKeyID string `json:"api_key_id"`
	Count    int64  `json:"count"`
}

// Summary is the full usage-stats response.
type Summary struct {
	TotalRequests      int64           `json:"total_requests"`
	TotalUsage         int64           `json:"total_usage"`
	AverageResponseMs  float64         `json:"average_response_time_ms"`
	RequestsToday      int64           `json:"requests_today"`
	AverageResponseToday float64       `json:"average_response_time_ms_today"`
	PerKeyToday        []KeyUsageToday `json:"per_key_today"`
}

// Compute queries db for the summary described above.
func Compute(db *gorm.DB, now time.Time) (*Summary, error) {
	s := &Summary{}

	if err := db.Model(&model.RequestLog{}).Count(&s.TotalRequests).Error; err != nil {
		return nil, fmt.Errorf("failed to count total requests: %w", err)
	}

	var totalUsage int64
	if err := db.Model(&model.ApiKey{}).Select("COALESCE(SUM(usage_count), 0)").Row().Scan(&totalUsage); err != nil {
		return nil, fmt.Errorf("failed to sum usage counts: %w", err)
	}
	s.TotalUsage = totalUsage

	var avg float64
	row := db.Model(&model.RequestLog{}).Select("COALESCE(AVG(response_time_ms), 0)").Row()
	if err := row.Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average response time: %w", err)
	}
	s.AverageResponseMs = avg

	boundary := TodayBoundary(now)

	if err := db.Model(&model.RequestLog{}).Where("created_at >= ?", boundary).Count(&s.RequestsToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count today's requests: %w", err)
	}

	var avgToday float64
	rowToday := db.Model(&model.RequestLog{}).Where("created_at >= ?", boundary).
		Select("COALESCE(AVG(response_time_ms), 0)").Row()
	if err := rowToday.Scan(&avgToday); err != nil {
		return nil, fmt.Errorf("failed to average today's response time: %w", err)
	}
	s.AverageResponseToday = avgToday

	var perKey []KeyUsageToday
	err := db.Model(&model.RequestLog{}).
		Select("api_key_id, COUNT(*) as count").
		Where("created_at >= ? AND api_key_id != ''", boundary).
		Group("api_key_id").
		Scan(&perKey).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate per-key usage: %w", err)
	}
	s.PerKeyToday = perKey

	return s, nil
}
