package settings

import (
	"path/filepath"
	"testing"

	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/store"
)

func newTestSettings(t *testing.T) *Settings {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return New(db)
}

func TestRetryCount_DefaultAndFloor(t *testing.T) {
	s := newTestSettings(t)

	n, err := s.RetryCount()
	if err != nil {
		t.Fatalf("RetryCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected default retry count 3, got %d", n)
	}

	if err := s.SetRetryCount(0); err != nil {
		t.Fatalf("SetRetryCount failed: %v", err)
	}
	n, _ = s.RetryCount()
	if n != 1 {
		t.Errorf("expected retry count floored at 1, got %d", n)
	}
}

func TestCustomAuthKey_NilUntilSet(t *testing.T) {
	s := newTestSettings(t)

	hash, err := s.CustomAuthKeyHash()
	if err != nil {
		t.Fatalf("CustomAuthKeyHash failed: %v", err)
	}
	if hash != nil {
		t.Fatalf("expected nil auth key hash before any secret is set, got %q", *hash)
	}

	if err := s.SetCustomAuthKey("super-secret"); err != nil {
		t.Fatalf("SetCustomAuthKey failed: %v", err)
	}
	hash, err = s.CustomAuthKeyHash()
	if err != nil {
		t.Fatalf("CustomAuthKeyHash failed: %v", err)
	}
	if hash == nil || *hash != HashSecret("super-secret") {
		t.Errorf("expected hash to match HashSecret output, got %v", hash)
	}

	if err := s.ClearCustomAuthKey(); err != nil {
		t.Fatalf("ClearCustomAuthKey failed: %v", err)
	}
	hash, _ = s.CustomAuthKeyHash()
	if hash != nil {
		t.Error("expected hash to be nil after clearing")
	}
}

func TestEgressProxy_RoundTrip(t *testing.T) {
	s := newTestSettings(t)

	want := EgressProxy{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080, Username: "u", Password: "p"}
	if err := s.SetEgressProxy(want); err != nil {
		t.Fatalf("SetEgressProxy failed: %v", err)
	}

	got, err := s.EgressProxy()
	if err != nil {
		t.Fatalf("EgressProxy failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestHashSecret_Deterministic(t *testing.T) {
	if HashSecret("abc") != HashSecret("abc") {
		t.Error("expected HashSecret to be deterministic")
	}
	if HashSecret("abc") == HashSecret("abd") {
		t.Error("expected different inputs to hash differently")
	}
}
