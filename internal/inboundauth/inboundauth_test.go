package inboundauth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"gemkeyproxy/internal/auditlog"
	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/settings"
	"gemkeyproxy/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *settings.Settings) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	s := settings.New(db)
	audit := auditlog.New(db, auditlog.Config{})

	r := gin.New()
	r.Use(Middleware(s, audit))
	r.POST("/v1/models/gemini-pro:generateContent", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r, s
}

func TestMiddleware_RejectsMissingSecretWith401(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_RejectsWhenNoSecretConfiguredWith403(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent?key=anything", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when no secret is configured, got %d", w.Code)
	}
}

func TestMiddleware_AcceptsHeaderBearer(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent", nil)
	req.Header.Set("Authorization", "Bearer right-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware_AcceptsQueryParamKey(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent?key=right-secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware_HeaderWinsOverQuery(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent?key=right-secret", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 because the (wrong) header should win over the valid query param, got %d", w.Code)
	}
}

func TestMiddleware_RejectsWrongSecretWith403(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestMiddleware_RejectionCarriesNoBody(t *testing.T) {
	r, s := newTestRouter(t)
	_ = s.SetCustomAuthKey("right-secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/models/gemini-pro:generateContent", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected a bare status with no body, got %q", w.Body.String())
	}
}
