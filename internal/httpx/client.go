// Package httpx is the shared HTTP core for the REST-style provider
// adapters (Graph, WebDAV, PKCE-REST). It handles request construction,
// authentication headers, bounded retry with exponential backoff, and
// classification of failures into the vault error taxonomy.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "genpwd-sync/0.1"
)

// Authorizer stamps credentials onto an outgoing request. Basic-auth
// backends use a static implementation; OAuth backends supply one backed
// by a token source.
type Authorizer interface {
	Apply(req *http.Request) error
}

// BasicAuth is the Authorizer for static-credential backends. The
// credentials ride on every request; nothing is cached.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// BearerFunc adapts a token-returning function into an Authorizer.
type BearerFunc func() (string, error)

func (f BearerFunc) Apply(req *http.Request) error {
	tok, err := f()
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	return nil
}

// Client is a retrying HTTP client bound to one backend base URL.
type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	auth       Authorizer
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real
	// delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a client for one backend. provider names the adapter in
// classified errors and log lines.
func New(provider, baseURL string, httpClient *http.Client, auth Authorizer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       auth,
		logger:     logger,
		sleepFunc:  sleep,
	}
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetSleepFunc overrides the retry wait. Test hook.
func (c *Client) SetSleepFunc(f func(ctx context.Context, d time.Duration) error) {
	c.sleepFunc = f
}

// Do executes method against baseURL+path with bounded retry. body may
// be nil; a non-nil body must be an io.ReadSeeker so it can rewind
// before each retry. extra headers are applied to every attempt.
// On HTTP failure the response body is consumed and folded into a
// classified vault error; on success the caller owns resp.Body.
func (c *Client) Do(ctx context.Context, method, path string, header http.Header, body io.ReadSeeker) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		if body != nil {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, vault.Classify(c.provider, fmt.Errorf("rewinding request body: %w", err))
			}
		}

		resp, err := c.doOnce(ctx, method, url, header, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, vault.Classify(c.provider, ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("provider", c.provider),
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, vault.Classify(c.provider, sleepErr)
				}

				attempt++

				continue
			}

			return nil, vault.Classify(c.provider, fmt.Errorf("%s %s failed after %d retries: %w", method, path, maxRetries, err))
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("provider", c.provider),
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("provider", c.provider),
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, vault.Classify(c.provider, err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("provider", c.provider),
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, vault.FromStatus(c.provider, resp.StatusCode, string(errBody))
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, header http.Header, body io.ReadSeeker) (*http.Response, error) {
	// Rebox as io.Reader only when non-nil so http sees a nil body,
	// not a non-nil interface holding a nil seeker.
	var reqBody io.Reader
	if body != nil {
		reqBody = body
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("User-Agent", userAgent)

	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return nil, err
		}
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the wait for a retryable response, honoring
// Retry-After on 429.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// isRetryable reports whether the status code is worth retrying.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// sleep waits for d or until ctx is canceled. Default sleepFunc.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
