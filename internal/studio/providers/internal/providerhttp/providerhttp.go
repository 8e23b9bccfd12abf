// Package providerhttp is the shared retryable HTTP transport used by
// every studio provider adapter (tts, image, facevideo, music). It mirrors
// the client.do/doOnce retry shape used elsewhere in the codebase: bounded
// retries on 5xx/408/429/network errors with jittered exponential backoff,
// immediate return on other 4xx.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelmedia/studioforge/internal/pkg/httpx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// HTTPError carries a provider's HTTP status so httpx.IsRetryableError can
// classify it, and maps that status to an apierr.Code.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Code classifies this HTTP error per spec.md §7's error taxonomy:
// 5xx/408/429 are transient, everything else permanent.
func (e *HTTPError) Code() apierr.Code {
	if httpx.IsRetryableHTTPStatus(e.StatusCode) {
		return apierr.CodeProviderFiveXX
	}
	return apierr.CodeProviderFourXX
}

// Client is a thin wrapper around *http.Client with the retry/backoff
// policy baked in. Provider adapters embed it rather than reimplementing
// the retry loop.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	MaxRetries int
	Log        *logger.Logger
}

func New(baseURL string, maxRetries int, log *logger.Logger) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		Log:        log.With("component", "ProviderHTTPClient"),
	}
}

// Do performs method/path with body marshaled as JSON, decoding the
// response into out. A deadline-exceeded context aborts immediately
// rather than burning a retry attempt.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, headers, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if len(raw) == 0 {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("provider decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.MaxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.Log.Warn("provider request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable provider retry loop")
}

func (c *Client) doOnce(ctx context.Context, method, path string, headers map[string]string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
