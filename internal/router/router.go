// Package router is the Router component: it binds the HTTP surface spec
// names (/health, /v1, /v1/models, /v1beta/models) to the Forwarder,
// mounting InboundAuth on every forwarding route and leaving /health and
// the root info endpoint open.
//
// Grounded on the teacher's cmd/gogemini/main.go route-group construction,
// generalized from its /gemini and /openai groups onto the single
// Gemini-native surface this proxy forwards.
package router

import (
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gemkeyproxy/internal/auditlog"
	"gemkeyproxy/internal/forwarder"
	"gemkeyproxy/internal/inboundauth"
	"gemkeyproxy/internal/settings"
)

// New builds the gin.Engine serving the proxy surface. Admin routes are
// registered separately by the caller via admin.SetupRoutes on the same
// engine, since they sit behind a different auth scheme entirely.
func New(fwd *forwarder.Forwarder, s *settings.Settings, audit *auditlog.Log, logger *slog.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(customRecovery(logger))
	engine.Use(cors())

	engine.GET("/health", health)
	engine.GET("/v1", info)

	auth := inboundauth.Middleware(s, audit)

	proxied := engine.Group("")
	proxied.Use(auth)
	{
		h := &handler{forwarder: fwd, audit: audit, logger: logger.With("component", "router")}

		proxied.GET("/v1/models", h.unary)
		proxied.GET("/v1beta/models", h.unary)
		proxied.GET("/v1/models/*path", h.unaryModelPath)
		proxied.GET("/v1beta/models/*path", h.unaryModelPath)
		proxied.POST("/v1/models/*path", h.postModelPath)
		proxied.POST("/v1beta/models/*path", h.postModelPath)
	}

	return engine
}

// customRecovery mirrors the teacher's gin recovery middleware: a client
// disconnect (http.ErrAbortHandler) is logged quietly, anything else gets
// a full stack trace before the 500.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}
				log.Error("panic recovered", "error", recovered, "path", c.Request.URL.Path, "stack", string(debug.Stack()))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoints": []string{
			"/v1/models",
			"/v1beta/models",
			"/v1/models/{model}:generateContent",
			"/v1beta/models/{model}:generateContent",
			"/v1/models/{model}:streamGenerateContent",
			"/v1beta/models/{model}:streamGenerateContent",
		},
	})
}

// cors is a permissive, hand-rolled CORS middleware: no third-party CORS
// package appears anywhere in the retrieval pack, so this one ambient
// concern is implemented directly against net/http response headers.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "*")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type handler struct {
	forwarder *forwarder.Forwarder
	audit     *auditlog.Log
	logger    *slog.Logger
}

// unary handles GET /v1/models and /v1beta/models, forwarded unchanged.
func (h *handler) unary(c *gin.Context) {
	h.forwardUnary(c, c.Request.URL.Path)
}

// unaryModelPath handles GET .../models/{*path}: an action path (one
// containing ":") has no GET handler and is a 404; everything else is a
// plain unary forward.
func (h *handler) unaryModelPath(c *gin.Context) {
	path := c.Request.URL.Path
	if strings.Contains(c.Param("path"), ":") {
		h.notFound(c)
		return
	}
	h.forwardUnary(c, path)
}

// notFound answers an unsupported route shape with a bare 404 and records
// it as a handler error in the audit log.
func (h *handler) notFound(c *gin.Context) {
	if err := h.audit.AppendHandlerError(c.Request.Method, c.Request.URL.Path, http.StatusNotFound, nil, 0); err != nil {
		h.logger.Error("failed to append audit log entry", "error", err)
	}
	c.Status(http.StatusNotFound)
}

// postModelPath handles POST .../models/{*path}; the action suffix
// decides unary vs. streaming, anything else is a 404.
func (h *handler) postModelPath(c *gin.Context) {
	path := c.Request.URL.Path
	switch {
	case strings.HasSuffix(path, ":generateContent"):
		h.forwardUnary(c, path)
	case strings.HasSuffix(path, ":streamGenerateContent"):
		h.forwardStream(c, path)
	default:
		h.notFound(c)
	}
}

func (h *handler) forwardUnary(c *gin.Context, path string) {
	started := time.Now().UTC()
	body, _ := readBody(c.Request)

	resp, err := h.forwarder.Forward(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body)
	if err != nil {
		h.handlerError(c, started, body, err)
		return
	}

	for k, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func (h *handler) forwardStream(c *gin.Context, path string) {
	started := time.Now().UTC()
	body, _ := readBody(c.Request)

	_, err := h.forwarder.ForwardStream(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body, c.Writer)
	if err != nil {
		h.handlerError(c, started, body, err)
		return
	}
}

// handlerError surfaces a fatal Forwarder error (invalid payload, no
// active keys, retries exhausted) as the spec's error envelope, appending
// exactly one audit row per spec's "every failure path writes one row"
// policy.
func (h *handler) handlerError(c *gin.Context, started time.Time, body []byte, err error) {
	status := http.StatusInternalServerError
	if err == forwarder.ErrInvalidPayload {
		status = http.StatusBadRequest
	}

	var reqBody *string
	if len(body) > 0 {
		s := string(body)
		reqBody = &s
	}

	elapsed := time.Since(started)
	if auditErr := h.audit.AppendHandlerError(c.Request.Method, c.Request.URL.Path, status, reqBody, elapsed); auditErr != nil {
		h.logger.Error("failed to append audit log entry", "error", auditErr)
	}

	c.JSON(status, auditlog.ErrorEnvelope(status))
}

// readBody reads and restores the request body so downstream code can
// still access it through c.Request if needed. InboundAuth has already
// done the same for the same reason on the routes where it runs.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Method == http.MethodGet {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(strings.NewReader(string(data)))
	return data, nil
}
