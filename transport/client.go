// Package transport is the thin HTTP layer between the caches and the admin API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
)

// ErrUnauthorized is returned for 401 responses and when no credential is
// available. It wraps types.ErrUnauthorized.
var ErrUnauthorized = fmt.Errorf("transport: %w", types.ErrUnauthorized)

// RequestError is a non-2xx response other than 401. It is retryable.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// TokenSource supplies the bearer credential.
type TokenSource interface {
	Token() (string, bool)

	// Forget is called after a 401 so the stale credential is not reused.
	Forget()
}

// StaticToken is a TokenSource holding one credential in memory.
type StaticToken struct {
	mu    sync.Mutex
	value string
}

// NewStaticToken returns a token source for value.
func NewStaticToken(value string) *StaticToken {
	return &StaticToken{value: value}
}

func (s *StaticToken) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.value != ""
}

func (s *StaticToken) Forget() {
	s.mu.Lock()
	s.value = ""
	s.mu.Unlock()
}

// Client calls the admin API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     logrus.FieldLogger
}

// NewClient builds a client for baseURL. A nil httpClient gets one with timeout.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, httpClient *http.Client, log logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     log.WithField("module", "transport"),
	}
}

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, ok := "", false
	if c.tokens != nil {
		token, ok = c.tokens.Token()
	}
	if !ok {
		return ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)

	log := c.log.WithFields(logrus.Fields{"method": method, "path": path, "request_id": requestID})
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	log = log.WithFields(logrus.Fields{"status": resp.StatusCode, "elapsed": time.Since(start)})

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Forget()
		log.Warn("credential rejected")
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("request rejected")
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	log.Debug("request done")

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fallback
}

// IsUnauthorized reports whether err came from a rejected credential.
func IsUnauthorized(err error) bool {
	return errors.Is(err, types.ErrUnauthorized)
}
