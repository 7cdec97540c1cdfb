package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/keyregistry"
	"gemkeyproxy/internal/settings"
	"gemkeyproxy/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *keyregistry.Registry, *settings.Settings) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	registry := keyregistry.New(db)
	s := settings.New(db)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	if err := s.SetPasswordHash(string(hash)); err != nil {
		t.Fatalf("failed to set password hash: %v", err)
	}

	router := gin.New()
	SetupRoutes(router, registry, s, db)
	return router, registry, s
}

func doRequest(router *gin.Engine, method, path, user, password string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBasicAuth_RejectsMissingAndWrongCredentials(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/admin/keys", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no credentials, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/admin/keys", "admin", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong password, got %d", rec.Code)
	}
}

func TestKeyCRUD(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/admin/keys", "admin", "hunter2", map[string]string{
		"name": "primary", "key_value": "AIzaSy-test",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating key, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	id := created["id"].(string)

	rec = doRequest(router, http.MethodGet, "/admin/keys", "admin", "hunter2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing keys, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodPut, "/admin/keys/"+id, "admin", "hunter2", map[string]interface{}{
		"name": "renamed", "key_value": "AIzaSy-test", "is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating key, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodDelete, "/admin/keys/"+id, "admin", "hunter2", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deleting key, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/admin/keys/"+id, "admin", "hunter2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted key, got %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	router, _, s := newTestRouter(t)

	rec := doRequest(router, http.MethodPut, "/admin/settings/retry-count", "admin", "hunter2", map[string]int{"retry_count": 5})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 setting retry count, got %d", rec.Code)
	}
	if n, err := s.RetryCount(); err != nil || n != 5 {
		t.Errorf("expected retry count 5, got %d (err %v)", n, err)
	}

	rec = doRequest(router, http.MethodPut, "/admin/settings/auth-key", "admin", "hunter2", map[string]string{"secret": "s3cret"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 setting auth key, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/admin/settings", "admin", "hunter2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 getting settings, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode settings response: %v", err)
	}
	if body["auth_key_is_set"] != true {
		t.Errorf("expected auth_key_is_set true, got %+v", body)
	}

	rec = doRequest(router, http.MethodDelete, "/admin/settings/auth-key", "admin", "hunter2", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 clearing auth key, got %d", rec.Code)
	}
	hash, err := s.CustomAuthKeyHash()
	if err != nil {
		t.Fatalf("CustomAuthKeyHash failed: %v", err)
	}
	if hash != nil {
		t.Errorf("expected auth key hash nil after clear, got %v", *hash)
	}
}

func TestStatsAndLogsEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/admin/stats", "admin", "hunter2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from stats, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/admin/logs?page=1&limit=10", "admin", "hunter2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from logs, got %d", rec.Code)
	}
	var body logsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode logs response: %v", err)
	}
	if body.Page != 1 || body.Limit != 10 {
		t.Errorf("unexpected pagination echo: %+v", body)
	}
}
