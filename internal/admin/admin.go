// Package admin implements the external collaborator surface spec names
// for the Admin UI: key CRUD, settings get/set, a paginated log query, and
// usage stats. It is mounted behind HTTP Basic auth, checked against a
// bcrypt hash stored in AppSettings.
//
// Grounded on the teacher's internal/admin/{handler,routes}.go for the gin
// route-group/handler shape, adapted from the teacher's split
// GeminiKey/APIKey model onto spec's single ApiKey model.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"gemkeyproxy/internal/keyregistry"
	"gemkeyproxy/internal/model"
	"gemkeyproxy/internal/settings"
	"gemkeyproxy/internal/stats"
	"gemkeyproxy/internal/store"
)

type Handler struct {
	registry *keyregistry.Registry
	settings *settings.Settings
	db       *gorm.DB
}

func NewHandler(registry *keyregistry.Registry, s *settings.Settings, db *gorm.DB) *Handler {
	return &Handler{registry: registry, settings: s, db: db}
}

// BasicAuth checks credentials against the bcrypt hash stored in
// AppSettings. Username is fixed to "admin", matching the teacher's
// AdminAuthMiddleware convention.
func BasicAuth(s *settings.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, ok := c.Request.BasicAuth()
		if !ok || user != "admin" {
			challenge(c)
			return
		}

		hash, err := s.PasswordHash()
		if err != nil || hash == "" {
			challenge(c)
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			challenge(c)
			return
		}
		c.Next()
	}
}

func challenge(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="gemkeyproxy admin"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// SetupRoutes registers the /admin route group.
func SetupRoutes(router *gin.Engine, registry *keyregistry.Registry, s *settings.Settings, db *gorm.DB) {
	h := NewHandler(registry, s, db)

	adminGroup := router.Group("/admin")
	adminGroup.Use(BasicAuth(s))
	{
		keys := adminGroup.Group("/keys")
		keys.GET("", h.ListKeys)
		keys.POST("", h.CreateKey)
		keys.GET("/:id", h.GetKey)
		keys.PUT("/:id", h.UpdateKey)
		keys.DELETE("/:id", h.DeleteKey)

		settingsGroup := adminGroup.Group("/settings")
		settingsGroup.GET("", h.GetSettings)
		settingsGroup.PUT("/retry-count", h.SetRetryCount)
		settingsGroup.PUT("/proxy", h.SetProxy)
		settingsGroup.PUT("/auth-key", h.SetAuthKey)
		settingsGroup.DELETE("/auth-key", h.ClearAuthKey)
		settingsGroup.PUT("/password", h.SetPassword)

		adminGroup.GET("/logs", h.ListLogs)
		adminGroup.GET("/stats", h.Stats)
	}
}

type createKeyRequest struct {
	Name     string `json:"name" binding:"required"`
	KeyValue string `json:"key_value" binding:"required"`
}

func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := h.registry.Create(req.Name, req.KeyValue)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) GetKey(c *gin.Context) {
	key, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

type updateKeyRequest struct {
	Name     string `json:"name"`
	KeyValue string `json:"key_value"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) UpdateKey(c *gin.Context) {
	existing, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondLookupError(c, err)
		return
	}
	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	existing.Name = req.Name
	existing.KeyValue = req.KeyValue
	existing.IsActive = req.IsActive
	if err := h.registry.Update(existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (h *Handler) DeleteKey(c *gin.Context) {
	if err := h.registry.Delete(c.Param("id")); err != nil {
		respondLookupError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondLookupError(c *gin.Context, err error) {
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) GetSettings(c *gin.Context) {
	retryCount, err := h.settings.RetryCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	proxyCfg, err := h.settings.EgressProxy()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	hash, err := h.settings.CustomAuthKeyHash()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"retry_count":     retryCount,
		"proxy":           proxyCfg,
		"auth_key_is_set": hash != nil,
	})
}

type retryCountRequest struct {
	RetryCount int `json:"retry_count"`
}

func (h *Handler) SetRetryCount(c *gin.Context) {
	var req retryCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.SetRetryCount(req.RetryCount); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetProxy(c *gin.Context) {
	var req settings.EgressProxy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.SetEgressProxy(req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type authKeyRequest struct {
	Secret string `json:"secret" binding:"required"`
}

func (h *Handler) SetAuthKey(c *gin.Context) {
	var req authKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.SetCustomAuthKey(req.Secret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearAuthKey(c *gin.Context) {
	if err := h.settings.ClearCustomAuthKey(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) SetPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.SetPasswordHash(string(hash)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type logsResponse struct {
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
	Logs  []model.RequestLog `json:"logs"`
}

// ListLogs returns a page of RequestLog rows, newest first.
func (h *Handler) ListLogs(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	var total int64
	if err := h.db.Model(&model.RequestLog{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var logs []model.RequestLog
	offset := (page - 1) * limit
	if err := h.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, logsResponse{Total: total, Page: page, Limit: limit, Logs: logs})
}

func (h *Handler) Stats(c *gin.Context) {
	summary, err := stats.Compute(h.db, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
