// Package image is the abstract text-to-image provider adapter (spec.md
// §6), used by the Face processor to generate prompt variants.
package image

import (
	"context"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/internal/providerhttp"
)

// AllowedSizes is the provider-specific allow-list spec.md §6 requires;
// an invalid size is coerced to AutoSize rather than rejected.
var AllowedSizes = []string{"512x512", "768x768", "1024x1024", "1024x1792", "1792x1024"}

const AutoSize = "auto"

func CoerceSize(requested string) string {
	for _, s := range AllowedSizes {
		if s == requested {
			return requested
		}
	}
	return AutoSize
}

type Request struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	Width          int
	Height         int
	Steps          int
	Guidance       float64
}

// Result carries either a URL or inline bytes; callers check URL first.
type Result struct {
	URL   string
	Bytes []byte
}

type Client interface {
	Generate(ctx context.Context, idempotencyKey string, req Request) (Result, error)
}

type httpClient struct {
	provider string
	http     *providerhttp.Client
}

func NewHTTPClient(provider, baseURL, apiKey string, maxRetries int, log *logger.Logger) Client {
	c := providerhttp.New(baseURL, maxRetries, log)
	c.HTTPClient.Timeout = 45 * time.Second
	return &httpClient{provider: provider, http: c}
}

func (c *httpClient) Generate(ctx context.Context, idempotencyKey string, req Request) (Result, error) {
	var out Result
	err := c.http.Do(ctx, "POST", "/v1/images/generate", map[string]string{
		"Idempotency-Key": idempotencyKey,
	}, req, &out)
	return out, err
}
