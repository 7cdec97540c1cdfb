// Package config loads gemkeyproxy's bootstrap configuration: the handful
// of settings that must be known before the database is even open
// (listen address, database DSN, optional one-time bootstrap secrets).
// Everything else lives in the AppSettings row and is managed at runtime
// through the admin API.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DatabaseConfig selects and configures the GORM dialector.
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, postgres, mysql
	DSN  string `yaml:"dsn"`
}

// BootstrapConfig holds values used at startup to seed the matching
// AppSettings field when that field is still unset. A field that already
// has a value is left alone; operators manage the live values through the
// admin API instead.
type BootstrapConfig struct {
	AdminPassword string `yaml:"admin_password"`
	AuthKey       string `yaml:"auth_key"`
}

// RetentionConfig configures the AuditLog retention sweep.
type RetentionConfig struct {
	MaxAgeDays int `yaml:"max_age_days"` // 0 disables pruning
}

// Config is the top-level bootstrap configuration.
type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	Debug      bool             `yaml:"debug"`
	Database   DatabaseConfig   `yaml:"database"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Retention  RetentionConfig  `yaml:"retention"`
}

func defaults() Config {
	return Config{
		ListenAddr: "0.0.0.0:5675",
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "gemkeyproxy.db",
		},
		Retention: RetentionConfig{
			MaxAgeDays: 30,
		},
	}
}

// Load reads and parses the configuration file at path, applying defaults
// for anything left unset. A missing file is not an error; defaults alone
// are a valid configuration for local/dev use.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:5675"
	}

	return &cfg, nil
}
