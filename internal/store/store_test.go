package store

import (
	"path/filepath"
	"testing"

	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/model"
)

func TestOpen_SeedsSettingsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var settings model.AppSettings
	if err := db.First(&settings, model.SettingsID).Error; err != nil {
		t.Fatalf("expected seeded settings row, got error: %v", err)
	}
	if settings.RetryCount != model.DefaultRetryCount {
		t.Errorf("expected default retry count %d, got %d", model.DefaultRetryCount, settings.RetryCount)
	}
	if settings.ProxyType != model.ProxyTypeHTTP {
		t.Errorf("expected default proxy type %q, got %q", model.ProxyTypeHTTP, settings.ProxyType)
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	if _, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: path}); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}

	var count int64
	if err := db.Model(&model.AppSettings{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one settings row after re-opening, got %d", count)
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Type: "oracle"}); err == nil {
		t.Error("expected error for unsupported database type")
	}
}
