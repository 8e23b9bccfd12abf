// Package tts is the abstract text-to-speech provider adapter (spec.md
// §6). Provider-specific payload shapes are out of scope; this interface
// exists to exercise the Provider Runs Ledger's state machine via a real
// retryable HTTP call.
package tts

import (
	"context"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/internal/providerhttp"
)

type OutputFormat string

const (
	FormatMP3 OutputFormat = "mp3"
	FormatWAV OutputFormat = "wav"
)

type Request struct {
	Text         string
	TargetLocale string
	Voice        string
	Style        string
	Rate         string
	Pitch        string
	OutputFormat OutputFormat
}

type SubmitResult struct {
	ProviderJobID string
	Status        string
}

type Variant struct {
	AudioURL    string
	ArtifactID  string
	ContentType string
	Bytes       int64
}

type StatusResult struct {
	Status   string
	Variants []Variant
}

// Client is the abstract TTS provider surface. Submit is idempotent per
// the (job_id) key the caller supplies in headers/out-of-band; this
// interface does not itself enforce idempotency — that is the Provider
// Runs Ledger's job (spec.md §4.5).
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
	err := c.http.Do(ctx, "POST", "/v1/tts/submit", map[string]string{
		"Idempotency-Key": idempotencyKey,
	}, req, &out)
	return out, err
}

func (c *httpClient) Poll(ctx context.Context, providerJobID string) (StatusResult, error) {
	var out StatusResult
	err := c.http.Do(ctx, "GET", "/v1/tts/jobs/"+providerJobID, nil, nil, &out)
	return out, err
}
