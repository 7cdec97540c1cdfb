package model

// ApiKey is an operator-owned upstream Gemini API key managed by the
// KeyRegistry and selected by the Rotator.
type ApiKey struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	KeyValue   string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"key_value"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	UsageCount int64     `gorm:"not null;default:0" json:"usage_count"`
	LastUsed   *JSONTime `gorm:"default:null" json:"last_used"`
	CreatedAt  JSONTime  `gorm:"not null" json:"created_at"`
	UpdatedAt  JSONTime  `gorm:"not null" json:"updated_at"`
}

// TableName pins the table name so it doesn't shift if the struct is renamed.
func (ApiKey) TableName() string { return "api_keys" }

// MaskedKeyValue redacts KeyValue for logging, keeping only the last 4
// characters so operators can still tell keys apart in log output.
func (k ApiKey) MaskedKeyValue() string {
	if len(k.KeyValue) <= 4 {
		return "****"
	}
	return "****" + k.KeyValue[len(k.KeyValue)-4:]
}
