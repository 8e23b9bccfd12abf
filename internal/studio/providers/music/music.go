// Package music is the abstract music-generation provider adapter
// (spec.md §6), used by the Music processor's multi-candidate generation.
package music

import (
	"context"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/internal/providerhttp"
)

type Request struct {
	Prompt       string
	Tags         []string
	Lyrics       string
	Instrumental bool
	Seed         int64
	OutputFormat string
	BitRate      int
}

type SubmitResult struct {
	ProviderJobID string
}

type Candidate struct {
	AudioURL string
	Bytes    int64
}

type StatusResult struct {
	Status     string
	Candidates []Candidate
}

type Client interface {
	Submit(ctx context.Context, idempotencyKey string, req Request) (SubmitResult, error)
	Poll(ctx context.Context, providerJobID string) (StatusResult, error)
}

type httpClient struct {
	provider string
	http     *providerhttp.Client
}

func NewHTTPClient(provider, baseURL, apiKey string, maxRetries int, log *logger.Logger) Client {
	c := providerhttp.New(baseURL, maxRetries, log)
	c.HTTPClient.Timeout = 30 * time.Second
	return &httpClient{provider: provider, http: c}
}

func (c *httpClient) Submit(ctx context.Context, idempotencyKey string, req Request) (SubmitResult, error) {
	var out SubmitResult
	err := c.http.Do(ctx, "POST", "/v1/music/submit", map[string]string{
		"Idempotency-Key": idempotencyKey,
	}, req, &out)
	return out, err
}

func (c *httpClient) Poll(ctx context.Context, providerJobID string) (StatusResult, error) {
	var out StatusResult
	err := c.http.Do(ctx, "GET", "/v1/music/jobs/"+providerJobID, nil, nil, &out)
	return out, err
}
