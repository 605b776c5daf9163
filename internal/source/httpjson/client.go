// Package httpjson is the small HTTP helper shared by the vendor adapters.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

const (
	// DefaultUserAgent mimics a desktop browser; several vendors reject
	// obvious bot agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 16 << 20
	snippetBytes   = 200
)

// StatusError reports a non-2xx vendor response.
type StatusError struct {
	Method  string
	Code    int
	URL     string
	Snippet string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Snippet)
}

// Unwrap maps 401/403 to crawler.ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return crawler.ErrUnauthorized
	}
	return nil
}

// Client issues JSON and text requests on behalf of one adapter kind.
type Client struct {
	http      *http.Client
	kind      string
	userAgent string
}

// New wraps httpClient for the given adapter kind. A nil client gets a
// default with a 20s timeout.
func New(httpClient *http.Client, kind crawler.SourceKind, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{http: httpClient, kind: string(kind), userAgent: userAgent}
}

// GetJSON performs a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return err
	}
	return decode(url, body, out)
}

// PostJSON sends payload as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, url, headers, raw)
	if err != nil {
		return err
	}
	return decode(url, body, out)
}

// GetText performs a GET and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.ObserveAdapterRequest(c.kind, 0)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	telemetry.ObserveAdapterRequest(c.kind, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > snippetBytes {
			snippet = snippet[:snippetBytes]
		}
		return nil, &StatusError{Method: method, Code: resp.StatusCode, URL: url, Snippet: snippet}
	}
	return body, nil
}

func decode(url string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
