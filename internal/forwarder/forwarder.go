// Package forwarder is the Forwarder component: it takes a validated
// inbound request, attaches an upstream key drawn from the Rotator, and
// relays it to the Gemini API with retry/backoff, demoting keys that come
// back 401/403 and writing one AuditLog row per attempt.
//
// Grounded on the teacher's internal/proxy.retryingTransport (retry shape,
// status classification) and internal/balancer.Balancer (disconnect
// classification), generalized using original_source's gemini_proxy.rs for
// the exact backoff formula, path rewrite, and SSE relay framing — a
// custom *http.Client loop is used instead of httputil.ReverseProxy
// because the up-front JSON validation, audit-body capture, and SSE
// re-framing this package needs aren't reachable through ReverseProxy's
// Director/ModifyResponse hooks.
package forwarder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"gemkeyproxy/internal/auditlog"
	"gemkeyproxy/internal/keyregistry"
	"gemkeyproxy/internal/model"
	"gemkeyproxy/internal/rotator"
	"gemkeyproxy/internal/settings"
)

const (
	upstreamBase     = "https://generativelanguage.googleapis.com"
	attemptTimeout   = 60 * time.Second
	sseKeepAlive     = 30 * time.Second
	baseBackoffMs    = 100
)

// ErrInvalidPayload is returned when the request body isn't well-formed
// JSON, or, on a POST generateContent/streamGenerateContent path, doesn't
// have the required body shape.
var ErrInvalidPayload = errors.New("request payload is not valid JSON")

// Forwarder is the C7 component.
type Forwarder struct {
	rotator  *rotator.Rotator
	registry *keyregistry.Registry
	settings *settings.Settings
	audit    *auditlog.Log
	logger   *slog.Logger

	// baseURL is overridable so tests can point the Forwarder at an
	// httptest server instead of the real Gemini API.
	baseURL string
}

func New(r *rotator.Rotator, registry *keyregistry.Registry, s *settings.Settings, audit *auditlog.Log, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		rotator:  r,
		registry: registry,
		settings: s,
		audit:    audit,
		logger:   logger.With("component", "forwarder"),
		baseURL:  upstreamBase,
	}
}

// SetBaseURL overrides the upstream base URL. Test-only hook.
func (f *Forwarder) SetBaseURL(url string) { f.baseURL = url }

// rewritePath converts a v1 client-facing path to the v1beta path the
// Gemini API actually serves.
func rewritePath(path string) string {
	if strings.HasPrefix(path, "/v1/") {
		return "/v1beta/" + strings.TrimPrefix(path, "/v1/")
	}
	return path
}

// ValidateJSONBody confirms body is well-formed JSON before the first
// upstream attempt is made, so a malformed payload fails fast as a handler
// error rather than burning a retry budget against a real key. For POST
// paths containing generateContent/streamGenerateContent it additionally
// enforces the generateContent body shape: a contents array of content
// objects, each with a non-empty parts array, each part carrying at least
// one of the known part keys.
func ValidateJSONBody(method, path string, body []byte) error {
	if len(body) == 0 {
		if requiresContentValidation(method, path) {
			return ErrInvalidPayload
		}
		return nil
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return ErrInvalidPayload
	}

	if requiresContentValidation(method, path) {
		return validateGenerateContentBody(v)
	}
	return nil
}

// requiresContentValidation reports whether path is a generateContent or
// streamGenerateContent action invoked via POST, per spec §4.4.2.
func requiresContentValidation(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	return strings.Contains(path, "generateContent") || strings.Contains(path, "streamGenerateContent")
}

// validateGenerateContentBody enforces §4.4.2's structural shape: body is
// a JSON object; body.contents is a non-empty array; each element has a
// non-empty parts array; each part carries at least one recognized key.
func validateGenerateContentBody(v interface{}) error {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return ErrInvalidPayload
	}

	rawContents, ok := obj["contents"]
	if !ok {
		return ErrInvalidPayload
	}
	contents, ok := rawContents.([]interface{})
	if !ok || len(contents) == 0 {
		return ErrInvalidPayload
	}

	for _, c := range contents {
		content, ok := c.(map[string]interface{})
		if !ok {
			return ErrInvalidPayload
		}
		rawParts, ok := content["parts"]
		if !ok {
			return ErrInvalidPayload
		}
		parts, ok := rawParts.([]interface{})
		if !ok || len(parts) == 0 {
			return ErrInvalidPayload
		}
		for _, p := range parts {
			part, ok := p.(map[string]interface{})
			if !ok || !hasAnyPartKey(part) {
				return ErrInvalidPayload
			}
		}
	}
	return nil
}

func hasAnyPartKey(part map[string]interface{}) bool {
	for _, key := range []string{"text", "inline_data", "function_call", "function_response"} {
		if _, ok := part[key]; ok {
			return true
		}
	}
	return false
}

// buildClient constructs an *http.Client honoring the currently configured
// egress proxy. A fresh client is built per attempt because settings can
// change between attempts (an operator could update the proxy mid-retry).
func (f *Forwarder) buildClient() (*http.Client, error) {
	ep, err := f.settings.EgressProxy()
	if err != nil {
		return nil, fmt.Errorf("failed to load egress proxy settings: %w", err)
	}

	transport := &http.Transport{}
	if ep.Enabled {
		addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
		switch ep.Type {
		case model.ProxyTypeHTTP, model.ProxyTypeHTTPS:
			proxyURL := &url.URL{Scheme: ep.Type, Host: addr}
			if ep.Username != "" {
				proxyURL.User = url.UserPassword(ep.Username, ep.Password)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		case model.ProxyTypeSOCKS4, model.ProxyTypeSOCKS5:
			// golang.org/x/net/proxy only implements a SOCKS5 client; SOCKS4
			// upstreams are dialed through the same client as an accepted
			// approximation (see DESIGN.md).
			var auth *proxy.Auth
			if ep.Username != "" {
				auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
			}
			dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("failed to build socks dialer: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			}
		default:
			return nil, fmt.Errorf("unsupported proxy type: %s", ep.Type)
		}
	}

	return &http.Client{Transport: transport, Timeout: attemptTimeout}, nil
}

// isRetryableStatus mirrors the teacher's isRetryableStatusCode: 401/403
// (bad key, worth trying a different one), 429, and every 5xx status are
// retried; every other status is returned to the caller as-is.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code < 600
	}
}

func isKeyCredentialFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// backoff returns the delay slept after failed attempt number n (0-indexed)
// and before the next one: 100 * 2^n ms (100, 200, 400, ...).
func backoff(attempt int) time.Duration {
	return time.Duration(baseBackoffMs<<uint(attempt)) * time.Millisecond
}

// buildUpstreamRequest constructs the outbound request for one attempt:
// path rewritten to v1beta, the drawn key attached as a ?key= query
// parameter (the Gemini API's native auth scheme), and the inbound body
// replayed verbatim.
func (f *Forwarder) buildUpstreamRequest(ctx context.Context, method, path string, query url.Values, body []byte, keyValue string) (*http.Request, error) {
	q := url.Values{}
	for k, v := range query {
		if k == "key" {
			continue
		}
		q[k] = v
	}
	q.Set("key", keyValue)

	u := f.baseURL + rewritePath(path) + "?" + q.Encode()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doAttempt runs a single upstream round trip and returns the response (if
// any), the key used, and how long the round trip took.
func (f *Forwarder) doAttempt(ctx context.Context, method, path string, query url.Values, body []byte, streaming bool) (*http.Response, *model.ApiKey, time.Duration, error) {
	key, err := f.rotator.Next()
	if err != nil {
		return nil, nil, 0, err
	}

	req, err := f.buildUpstreamRequest(ctx, method, path, query, body, key.KeyValue)
	if err != nil {
		return nil, key, 0, err
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	client, err := f.buildClient()
	if err != nil {
		return nil, key, 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	return resp, key, elapsed, err
}

// attemptOutcome is what the shared retry loop needs to know after
// classifying one attempt.
type attemptOutcome struct {
	resp    *http.Response
	key     *model.ApiKey
	elapsed time.Duration
}

// runAttempts executes the shared retry loop: draw a key, attempt, classify,
// demote/log/backoff, repeat until success, a non-retryable status, or the
// configured retry budget is exhausted. The caller supplies streaming so
// the right Accept headers are sent and so AuditLog records the streaming
// sentinel on a successful attempt.
func (f *Forwarder) runAttempts(ctx context.Context, method, path string, query url.Values, body []byte, streaming bool) (*attemptOutcome, error) {
	maxAttempts, err := f.settings.RetryCount()
	if err != nil {
		return nil, fmt.Errorf("failed to load retry count: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, key, elapsed, err := f.doAttempt(ctx, method, path, query, body, streaming)
		if errors.Is(err, rotator.ErrNoActiveKeys) {
			// Fatal: no point retrying an empty pool.
			return nil, err
		}

		if err != nil {
			lastErr = err
			f.logger.Warn("upstream attempt failed with transport error", "attempt", attempt, "key", key.MaskedKeyValue(), "error", err)
			f.recordAttempt(key.ID, method, path, 0, elapsed, body, nil, streaming)
			_ = f.registry.IncrementUsage(key.ID)
			if attempt < maxAttempts-1 {
				time.Sleep(backoff(attempt))
			}
			continue
		}

		respBodySnippet, preserved := f.captureResponseBody(resp, streaming)
		f.recordAttempt(key.ID, method, path, resp.StatusCode, elapsed, body, respBodySnippet, streaming)
		_ = f.registry.IncrementUsage(key.ID)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &attemptOutcome{resp: preserved, key: key, elapsed: elapsed}, nil
		}

		if isKeyCredentialFailure(resp.StatusCode) {
			f.logger.Warn("demoting key after credential failure", "key", key.MaskedKeyValue(), "status", resp.StatusCode)
			if err := f.rotator.MarkFailed(key.ID); err != nil {
				f.logger.Error("failed to demote key", "error", err)
			}
		}

		if !isRetryableStatus(resp.StatusCode) {
			return &attemptOutcome{resp: preserved, key: key, elapsed: elapsed}, nil
		}

		lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
		preserved.Body.Close()
		if attempt < maxAttempts-1 {
			time.Sleep(backoff(attempt))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retries exhausted")
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// captureResponseBody reads and restores resp.Body so it can both be
// logged to AuditLog and relayed to the client. For a streaming response it
// deliberately does NOT buffer the body (that would defeat streaming); the
// caller relays resp.Body directly and AuditLog gets the sentinel instead.
func (f *Forwarder) captureResponseBody(resp *http.Response, streaming bool) (*string, *http.Response) {
	if streaming && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil, resp
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, resp
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	s := string(data)
	return &s, resp
}

func (f *Forwarder) recordAttempt(keyID, method, path string, status int, elapsed time.Duration, reqBody []byte, respBody *string, streaming bool) {
	var reqStr *string
	if len(reqBody) > 0 {
		s := string(reqBody)
		reqStr = &s
	}
	if err := f.audit.AppendForwarderAttempt(keyID, method, path, status, elapsed, reqStr, respBody, streaming); err != nil {
		f.logger.Error("failed to append audit log entry", "error", err)
	}
}

// UnaryResponse is the result of a successful (or finally-failed) unary
// forward, ready for the Router to relay verbatim to the client.
type UnaryResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward performs a unary (non-streaming) forward of a validated JSON
// request and returns the upstream response from the retry loop. It returns
// an error for an invalid payload (ErrInvalidPayload), an empty key pool
// (ErrNoActiveKeys), or when every attempt ended in a transport error or a
// retryable status (see isRetryableStatus). A 2xx response, or a
// non-retryable status such as 400 or 404, comes back as a UnaryResponse
// for the Router to relay unchanged.
func (f *Forwarder) Forward(ctx context.Context, method, path string, query url.Values, body []byte) (*UnaryResponse, error) {
	if err := ValidateJSONBody(method, path, body); err != nil {
		return nil, err
	}

	outcome, err := f.runAttempts(ctx, method, path, query, body, false)
	if err != nil {
		return nil, err
	}
	defer outcome.resp.Body.Close()

	data, err := io.ReadAll(outcome.resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &UnaryResponse{
		StatusCode: outcome.resp.StatusCode,
		Header:     outcome.resp.Header,
		Body:       data,
	}, nil
}

// ForwardStream performs a streaming (SSE) forward. On success it relays
// the upstream's "data: " events to sink line by line, suppressing [DONE] and
// blank keep-alive lines from upstream while injecting its own 30s
// keep-alive comment if the upstream goes quiet, until the stream ends or
// the client disconnects. sink is typically the gin ResponseWriter.
func (f *Forwarder) ForwardStream(ctx context.Context, method, path string, query url.Values, body []byte, sink StreamSink) (int, error) {
	if err := ValidateJSONBody(method, path, body); err != nil {
		return 0, err
	}

	outcome, err := f.runAttempts(ctx, method, path, query, body, true)
	if err != nil {
		return 0, err
	}
	defer outcome.resp.Body.Close()

	if outcome.resp.StatusCode < 200 || outcome.resp.StatusCode >= 300 {
		data, _ := io.ReadAll(outcome.resp.Body)
		sink.WriteHeader(outcome.resp.StatusCode)
		_, _ = sink.Write(data)
		return outcome.resp.StatusCode, nil
	}

	sink.Header().Set("Content-Type", "text/event-stream")
	sink.Header().Set("Cache-Control", "no-cache")
	sink.Header().Set("Connection", "keep-alive")
	sink.WriteHeader(http.StatusOK)

	relaySSE(ctx, outcome.resp.Body, sink, f.logger)
	return http.StatusOK, nil
}

// StreamSink is the subset of http.ResponseWriter (plus Flush) the SSE
// relay needs. Satisfied directly by gin.ResponseWriter.
type StreamSink interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(int)
	Flush()
}

// relaySSE re-frames the upstream event stream onto sink, dropping [DONE]
// and empty lines and injecting a keep-alive comment if nothing arrives
// from upstream for sseKeepAlive.
func relaySSE(ctx context.Context, upstream io.Reader, sink StreamSink, logger *slog.Logger) {
	lines := make(chan string)
	done := make(chan struct{})

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("error reading upstream stream", "error", err)
		}
	}()
	defer close(done)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			trimmed := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if !strings.HasPrefix(line, "data:") || trimmed == "" || trimmed == "[DONE]" {
				continue
			}
			if _, err := fmt.Fprintf(sink, "data: %s\n\n", trimmed); err != nil {
				return
			}
			sink.Flush()
			ticker.Reset(sseKeepAlive)
		case <-ticker.C:
			if _, err := fmt.Fprint(sink, ": keep-alive\n\n"); err != nil {
				return
			}
			sink.Flush()
		}
	}
}
