// Package inboundauth enforces the single locally-configured shared
// secret on inbound proxy traffic. It is mounted only on the forwarding
// route groups (/v1, /v1beta) — /health and the admin API have their own,
// separate auth concerns and never pass through this middleware.
package inboundauth

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gemkeyproxy/internal/auditlog"
	"gemkeyproxy/internal/settings"
)

const bearerPrefix = "Bearer "

// extractSecret pulls the presented secret from the Authorization header
// (exact "Bearer " prefix, case-sensitive) or, failing that, the ?key=
// query parameter. The header takes precedence when both are present.
func extractSecret(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	return r.URL.Query().Get("key")
}

// Middleware returns a gin middleware enforcing spec's InboundAuth rules:
// a missing presented secret is a 401, a missing stored hash is always a
// 403 (the proxy refuses to operate unconfigured rather than silently
// accepting traffic), and a mismatched secret is a 403.
func Middleware(s *settings.Settings, audit *auditlog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := captureBody(c.Request)

		secret := extractSecret(c.Request)
		if secret == "" {
			reject(c, audit, body, http.StatusUnauthorized)
			return
		}

		storedHash, err := s.CustomAuthKeyHash()
		if err != nil {
			reject(c, audit, body, http.StatusInternalServerError)
			return
		}
		if storedHash == nil {
			reject(c, audit, body, http.StatusForbidden)
			return
		}

		if settings.HashSecret(secret) != *storedHash {
			reject(c, audit, body, http.StatusForbidden)
			return
		}

		c.Next()
	}
}

// captureBody drains and restores the request body so it remains available
// to both an audit-log rejection record and, on success, the Forwarder.
func captureBody(r *http.Request) *string {
	if r.Body == nil {
		return nil
	}
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

// reject records the synthesized error envelope in the audit row but sends
// the client only a bare status: InboundAuth rejections carry no body.
func reject(c *gin.Context, audit *auditlog.Log, body *string, status int) {
	_ = audit.AppendAuthError(c.Request.Method, c.Request.URL.Path, status, body)
	c.AbortWithStatus(status)
}
