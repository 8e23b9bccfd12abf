// Package artifacts is the Artifact Store's URL Signer half (spec.md
// §4.6): artifacts carry a stable blob identity (meta.storage_path) and a
// separately time-limited signed URL. The signer never trusts a persisted
// url for playback — it mints a fresh one from (container, storage_path,
// ttl) on every read.
//
// Grounded on the Azure SAS pattern (blob_sas_service.py / sas_service.py):
// generate_blob_sas + BlobSasPermissions(read=True) there maps directly to
// cloud.google.com/go/storage's (*storage.BucketHandle).SignedURL here.
package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/kestrelmedia/studioforge/internal/platform/config"
)

// TTLPolicy decides the signed-URL lifetime for a given artifact kind and
// age, per spec.md §4.6: short for face images, long for recent videos,
// shorter for older ones.
type TTLPolicy struct {
	FaceTTL           time.Duration
	RecentVideoTTL    time.Duration
	DefaultVideoTTL   time.Duration
	RecentWindow      time.Duration
	FinalVideoTTL     time.Duration
}

func TTLPolicyFromConfig(cfg config.Config) TTLPolicy {
	return TTLPolicy{
		FaceTTL:         cfg.FaceURLTTL,
		RecentVideoTTL:  cfg.RecentVideoURLTTL,
		DefaultVideoTTL: cfg.DefaultVideoURLTTL,
		RecentWindow:    cfg.RecentWindow,
		FinalVideoTTL:   cfg.FinalVideoURLTTL,
	}
}

// TTLFor returns the signed-URL lifetime for an artifact of the given
// kind created at createdAt.
func (p TTLPolicy) TTLFor(kind string, createdAt time.Time) time.Duration {
	switch kind {
	case "face":
		return p.FaceTTL
	case "video":
		if time.Since(createdAt) <= p.RecentWindow {
			return p.RecentVideoTTL
		}
		return p.DefaultVideoTTL
	case "longform_final":
		return p.FinalVideoTTL
	default:
		return p.DefaultVideoTTL
	}
}

// Signer mints signed GCS URLs and recognizes which already-signed URLs
// are eligible for re-signing.
type Signer interface {
	// Sign mints a fresh signed URL for (container, storagePath) valid
	// for ttl.
	Sign(ctx context.Context, container, storagePath string, ttl time.Duration) (string, error)

	// SplitBlobURL extracts (container, storagePath) from a URL previously
	// minted by Sign, or ok=false if the URL's host doesn't match this
	// signer's blob-storage host pattern (spec.md §4.6's eligibility rule).
	SplitBlobURL(rawURL string) (container, storagePath string, ok bool)
}

type gcsSigner struct {
	bucket         *storage.BucketHandle
	bucketName     string
	serviceAccount string
	privateKey     []byte
	publicHost     string // host used in URLs this signer recognizes for re-signing
}

// GCSSignerConfig carries the service-account credentials SignedURL needs
// when the client isn't already configured with default credentials that
// support signing (e.g. when running against a local emulator with a
// stand-in key).
type GCSSignerConfig struct {
	BucketName     string
	ServiceAccount string
	PrivateKey     []byte
	PublicHost     string // e.g. "storage.googleapis.com"; empty uses the default
}

func NewGCSSigner(client *storage.Client, cfg GCSSignerConfig) Signer {
	host := strings.TrimSpace(cfg.PublicHost)
	if host == "" {
		host = "storage.googleapis.com"
	}
	var bucket *storage.BucketHandle
	if client != nil {
		bucket = client.Bucket(cfg.BucketName)
	}
	return &gcsSigner{
		bucket:         bucket,
		bucketName:     cfg.BucketName,
		serviceAccount: cfg.ServiceAccount,
		privateKey:     cfg.PrivateKey,
		publicHost:     host,
	}
}

func (s *gcsSigner) Sign(ctx context.Context, container, storagePath string, ttl time.Duration) (string, error) {
	storagePath = strings.TrimLeft(storagePath, "/")
	if storagePath == "" {
		return "", fmt.Errorf("storage_path is empty")
	}
	objectName := storagePath
	if container != "" {
		objectName = container + "/" + storagePath
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if s.serviceAccount != "" {
		opts.GoogleAccessID = s.serviceAccount
	}
	if len(s.privateKey) > 0 {
		opts.PrivateKey = s.privateKey
	}

	signed, err := s.bucket.SignedURL(objectName, opts)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return signed, nil
}

// SplitBlobURL parses https://storage.googleapis.com/<bucket>/<container>/<storagePath>?...
// A URL whose host doesn't match the signer's publicHost, or whose bucket
// segment doesn't match this signer's bucket, is not eligible for
// re-signing and is returned as-is by the caller.
func (s *gcsSigner) SplitBlobURL(rawURL string) (string, string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	if !strings.EqualFold(u.Host, s.publicHost) {
		return "", "", false
	}
	path := strings.TrimLeft(u.Path, "/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 3 || parts[0] != s.bucketName {
		return "", "", false
	}
	return parts[1], parts[2], true
}
