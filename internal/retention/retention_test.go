package retention

import (
	"path/filepath"
	"testing"
	"time"

	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/logger"
	"gemkeyproxy/internal/model"
	"gemkeyproxy/internal/store"
)

func TestPrune_RemovesOldRowsOnly(t *testing.T) {
	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	old := model.RequestLog{ID: "old", Method: "POST", Path: "/x", StatusCode: 200, CreatedAt: model.NewJSONTime(time.Now().UTC().AddDate(0, 0, -40))}
	fresh := model.RequestLog{ID: "fresh", Method: "POST", Path: "/x", StatusCode: 200, CreatedAt: model.NewJSONTime(time.Now().UTC())}
	if err := db.Create(&old).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatal(err)
	}

	s := New(db, 30, logger.New(false))
	s.prune()

	var remaining []model.RequestLog
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("expected only the fresh row to remain, got %+v", remaining)
	}
}

func TestStart_DisabledWhenMaxAgeZero(t *testing.T) {
	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	s := New(db, 0, logger.New(false))
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
}
