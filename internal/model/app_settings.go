package model

// SettingsID is the primary key of the single AppSettings row. The table
// only ever holds this one row.
const SettingsID = 1

// Supported egress proxy types for outbound calls to the Gemini API.
const (
	ProxyTypeHTTP   = "http"
	ProxyTypeHTTPS  = "https"
	ProxyTypeSOCKS4 = "socks4"
	ProxyTypeSOCKS5 = "socks5"
)

// DefaultRetryCount is the retry count the AppSettings row is seeded with.
const DefaultRetryCount = 3

// AppSettings is the process-wide singleton configuration row.
type AppSettings struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	PasswordHash  string   `gorm:"type:varchar(255);not null" json:"-"`
	CustomAuthKey *string  `gorm:"column:custom_auth_key;type:varchar(64)" json:"-"`
	RetryCount    int      `gorm:"not null;default:3" json:"retry_count"`
	ProxyEnabled  bool     `gorm:"not null;default:false" json:"proxy_enabled"`
	ProxyType     string   `gorm:"type:varchar(10);not null;default:'http'" json:"proxy_type"`
	ProxyHost     string   `gorm:"type:varchar(255)" json:"proxy_host"`
	ProxyPort     int      `gorm:"default:0" json:"proxy_port"`
	ProxyUsername string   `gorm:"type:varchar(255)" json:"proxy_username"`
	ProxyPassword string   `gorm:"type:varchar(255)" json:"-"`
	CreatedAt     JSONTime `json:"created_at"`
	UpdatedAt     JSONTime `json:"updated_at"`
}

func (AppSettings) TableName() string { return "app_settings" }
