// Package facevideo is the abstract face-animation ("fusion") provider
// adapter (spec.md §6). A call takes either an image key or a talking
// photo id, and either a pre-rendered audio URL or a voice id + script;
// it returns a provider_job_id that the caller polls for a final URL.
package facevideo

import (
	"context"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/internal/providerhttp"
)

// MaxDurationSeconds is the provider limit spec.md §6 calls out: a single
// face-video call must not request more than this; long-form chunking
// exists specifically to respect it.
const MaxDurationSeconds = 120

type Request struct {
	ImageKey       string
	TalkingPhotoID string
	AudioURL       string
	VoiceID        string
	Script         string
	Dimension      string
	AspectRatio    string
}

type SubmitResult struct {
	ProviderJobID string
}

type StatusResult struct {
	Status   string
	VideoURL string
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
	err := c.http.Do(ctx, "POST", "/v1/fusion/submit", map[string]string{
		"Idempotency-Key": idempotencyKey,
	}, req, &out)
	return out, err
}

func (c *httpClient) Poll(ctx context.Context, providerJobID string) (StatusResult, error) {
	var out StatusResult
	err := c.http.Do(ctx, "GET", "/v1/fusion/jobs/"+providerJobID, nil, nil, &out)
	return out, err
}
