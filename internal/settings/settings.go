// Package settings provides a typed accessor over the AppSettings
// singleton row: retry policy, the inbound shared-secret hash, the admin
// password hash, and the egress proxy configuration.
package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gemkeyproxy/internal/model"
)

// EgressProxy describes the outbound proxy used to reach the Gemini API.
// Enabled is false when egress is direct.
type EgressProxy struct {
	Enabled  bool
	Type     string // http, https, socks4, socks5
	Host     string
	Port     int
	Username string
	Password string
}

// Settings wraps the single AppSettings row.
type Settings struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Settings {
	return &Settings{db: db}
}

func (s *Settings) row() (*model.AppSettings, error) {
	var row model.AppSettings
	if err := s.db.First(&row, model.SettingsID).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &row, nil
}

// RetryCount returns the configured retry count, floored at 1.
func (s *Settings) RetryCount() (int, error) {
	row, err := s.row()
	if err != nil {
		return 0, err
	}
	if row.RetryCount < 1 {
		return 1, nil
	}
	return row.RetryCount, nil
}

// SetRetryCount persists a new retry count, enforcing the floor of 1.
func (s *Settings) SetRetryCount(n int) error {
	if n < 1 {
		n = 1
	}
	return s.update(map[string]interface{}{"retry_count": n})
}

// HashSecret computes the SHA-256 hex digest used both to store and to
// validate the inbound shared secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// CustomAuthKeyHash returns the stored inbound-secret hash, or nil if none
// has been set. InboundAuth must treat nil as "reject every request", never
// as "accept anything" or "initialize a default".
func (s *Settings) CustomAuthKeyHash() (*string, error) {
	row, err := s.row()
	if err != nil {
		return nil, err
	}
	return row.CustomAuthKey, nil
}

// SetCustomAuthKey hashes and stores a new inbound shared secret.
func (s *Settings) SetCustomAuthKey(secret string) error {
	hash := HashSecret(secret)
	return s.update(map[string]interface{}{"custom_auth_key": hash})
}

// ClearCustomAuthKey removes the stored secret, reverting InboundAuth to
// reject-everything until an operator sets a new one.
func (s *Settings) ClearCustomAuthKey() error {
	return s.update(map[string]interface{}{"custom_auth_key": nil})
}

// PasswordHash returns the bcrypt hash guarding the admin API.
func (s *Settings) PasswordHash() (string, error) {
	row, err := s.row()
	if err != nil {
		return "", err
	}
	return row.PasswordHash, nil
}

// SetPasswordHash stores a pre-hashed admin password.
func (s *Settings) SetPasswordHash(hash string) error {
	return s.update(map[string]interface{}{"password_hash": hash})
}

// EgressProxy returns the currently configured outbound proxy.
func (s *Settings) EgressProxy() (EgressProxy, error) {
	row, err := s.row()
	if err != nil {
		return EgressProxy{}, err
	}
	return EgressProxy{
		Enabled:  row.ProxyEnabled,
		Type:     row.ProxyType,
		Host:     row.ProxyHost,
		Port:     row.ProxyPort,
		Username: row.ProxyUsername,
		Password: row.ProxyPassword,
	}, nil
}

// SetEgressProxy replaces the outbound proxy configuration wholesale.
func (s *Settings) SetEgressProxy(p EgressProxy) error {
	return s.update(map[string]interface{}{
		"proxy_enabled":  p.Enabled,
		"proxy_type":     p.Type,
		"proxy_host":     p.Host,
		"proxy_port":     p.Port,
		"proxy_username": p.Username,
		"proxy_password": p.Password,
	})
}

func (s *Settings) update(fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	result := s.db.Model(&model.AppSettings{}).Where("id = ?", model.SettingsID).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update settings: %w", result.Error)
	}
	return nil
}
