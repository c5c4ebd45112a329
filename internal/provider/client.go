package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/storeops/adconnect/internal/errors"
)

const (
	// httpClientTimeout is the timeout for the default HTTP client
	// used when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads so a misbehaving
	// provider cannot consume unbounded memory.
	maxResponseBytes = 1024 * 1024

	// tokenEndpointRate limits calls per second across all token and
	// account endpoints; providers throttle these endpoints hard and a
	// burst of 429s only delays recovery.
	tokenEndpointRate = 5

	// tokenEndpointBurst allows short bursts during handshakes, which
	// issue two or three calls back to back.
	tokenEndpointBurst = 10
)

// httpResult is a completed provider HTTP exchange. The transport
// succeeded; the status code may still indicate a provider error.
type httpResult struct {
	Status int
	Body   []byte
}

// tokenClient is the shared HTTP plumbing for all adapters: rate
// limiting, timeouts, bounded reads, and transient-error wrapping for
// transport failures.
type tokenClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newTokenClient(httpClient *http.Client) *tokenClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &tokenClient{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(tokenEndpointRate), tokenEndpointBurst),
	}
}

// postForm sends a form-encoded POST, the shape every OAuth2 token
// endpoint accepts.
func (c *tokenClient) postForm(ctx context.Context, endpoint string, form url.Values) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

// postJSON sends a JSON POST. TikTok's token endpoints take JSON
// bodies instead of form encoding.
func (c *tokenClient) postJSON(ctx context.Context, endpoint string, payload any) (*httpResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// get sends a GET with optional bearer and extra headers, used for the
// account-discovery calls made right after a code exchange.
func (c *tokenClient) get(ctx context.Context, endpoint, bearer string, headers map[string]string) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

func (c *tokenClient) do(req *http.Request) (*httpResult, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &apperrors.TransientError{Err: fmt.Errorf("waiting for rate limiter: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failures and timeouts are transient by
		// definition: the next caller retries.
		return nil, &apperrors.TransientError{Err: fmt.Errorf("calling %s: %w", req.URL.Host, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperrors.TransientError{Err: fmt.Errorf("reading response from %s: %w", req.URL.Host, err)}
	}

	return &httpResult{Status: resp.StatusCode, Body: body}, nil
}

// sanitizeBody truncates and sanitizes a response body for inclusion
// in error messages and the stored last_error. Limits to 256 bytes and
// replaces non-printable characters to prevent log injection.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	s := strings.ToValidUTF8(string(body), "�")
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return ' '
		}
		return r
	}, s)
}
