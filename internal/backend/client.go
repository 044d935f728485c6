// Package backend is the HTTP client for the claims platform API: phone OTP
// authentication, token refresh and the admin claims endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claimdesk/claimdesk/internal/platform/resilience"
)

var (
	// ErrUnauthorized is matched by API errors carrying HTTP 401.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrNotFound is matched by API errors carrying HTTP 404.
	ErrNotFound = errors.New("backend: not found")
	// ErrRejected is matched by API errors carrying HTTP 400 or 422.
	ErrRejected = errors.New("backend: request rejected")
	// ErrMalformedResponse is returned when a body cannot be understood.
	ErrMalformedResponse = errors.New("backend: malformed response")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Detail)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRejected:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the claims backend. It performs no authorization of its
// own; callers gate operations before invoking it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	logger     *slog.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breakerCfg := resilience.DefaultBreakerConfig("claims-backend")
	breakerCfg.Logger = logger
	breakerCfg.Permanent = func(err error) bool {
		var apiErr *APIError
		return errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.NewBreaker(breakerCfg),
		logger:     logger,
	}
}

type tokenContextKey struct{}

// WithToken attaches a bearer token to outgoing calls made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (*response, error) {
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (*response, error) {
		target := c.baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}

		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("backend: encode %s: %w", path, err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, fmt.Errorf("backend: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := tokenFromContext(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
		if err != nil {
			return nil, fmt.Errorf("backend: read %s: %w", path, err)
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return nil, &APIError{Status: res.StatusCode, Detail: errorDetail(data)}
		}
		return &response{status: res.StatusCode, contentType: res.Header.Get("Content-Type"), body: data}, nil
	})
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	res, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decode(res.body, out)
}

func decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// errorDetail extracts the FastAPI style {"detail": ...} or {"message": ...}.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			return text
		}
		return string(payload.Detail)
	}
	return payload.Message
}

// Health reports whether the backend answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

// BreakerState exposes the circuit breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}
