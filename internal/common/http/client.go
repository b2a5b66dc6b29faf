// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/metrics"
)

// IdentityCheckPath never triggers the unauthorized hook, so a missing
// session does not loop back into a forced logout.
const IdentityCheckPath = "/auth/me"

// TokenSource supplies the bearer credential for outgoing calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// UnauthorizedHandler is invoked when an authenticated call comes back 401.
type UnauthorizedHandler func(ctx context.Context, path string)

type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     logger.Logger
	tracer     trace.Tracer

	mu             sync.RWMutex
	onUnauthorized UnauthorizedHandler
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.NewNoOpLogger(),
		tracer: otel.Tracer("microloan-client/http"),
	}
}

// NewBackendClient returns a client bound to the REST backend at baseURL.
func NewBackendClient(baseURL string, timeout time.Duration, tokens TokenSource, log logger.Logger) *Client {
	c := NewClient(timeout)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	c.tokens = tokens
	if log != nil {
		c.logger = log.With(map[string]interface{}{"component": "backend-client"})
	}
	return c
}

// SetUnauthorizedHandler registers the forced-logout hook.
func (c *Client) SetUnauthorizedHandler(h UnauthorizedHandler) {
	c.mu.Lock()
	c.onUnauthorized = h
	c.mu.Unlock()
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, http.MethodPatch, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodDelete, path, nil, nil, out)
}

// errorBody is the backend's failure envelope.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	route := RouteLabel(path)
	op := method + " " + route

	ctx, span := c.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	)

	start := time.Now()
	status, err := c.roundTrip(ctx, method, path, query, body, out)
	elapsed := time.Since(start)

	metrics.BackendRequests.WithLabelValues(method, route, metrics.StatusClass(status)).Inc()
	metrics.BackendRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("backend call failed", map[string]interface{}{
			"route":      op,
			"status":     status,
			"durationMs": elapsed.Milliseconds(),
			"error":      err.Error(),
		})
		return err
	}

	c.logger.Debug("backend call", map[string]interface{}{
		"route":      op,
		"status":     status,
		"durationMs": elapsed.Milliseconds(),
	})
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out interface{}) (int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, errors.NewInternalError(fmt.Errorf("encode %s body: %w", path, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, errors.NewInternalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.logger.Warn("token store unavailable; sending request without credentials", map[string]interface{}{
				"error": err.Error(),
			})
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, TransportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, TransportError(method+" "+path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if path != IdentityCheckPath {
			c.mu.RLock()
			hook := c.onUnauthorized
			c.mu.RUnlock()
			if hook != nil {
				hook(ctx, path)
			}
		}
		return resp.StatusCode, errors.NewUnauthenticatedError(path)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return resp.StatusCode, errors.NewBackendError(resp.StatusCode, msg).
			WithMetadata("route", method+" "+path)
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, errors.NewBackendError(resp.StatusCode, "malformed response").
				WithMetadata("decodeError", err.Error())
		}
	}

	return resp.StatusCode, nil
}

// TransportError classifies a failed round trip as a timeout or a network error.
func TransportError(op string, err error) *errors.StandardError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewTimeoutError(op, err)
	}
	return errors.NewNetworkError(op, err)
}

// RouteLabel replaces id-like path segments with ":id" to keep metric
// cardinality bounded.
func RouteLabel(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if strings.IndexFunc(p, unicode.IsDigit) >= 0 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
