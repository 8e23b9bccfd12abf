package artifacts

import (
	"testing"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/config"
)

func TestTTLPolicyFromConfig(t *testing.T) {
	cfg := config.Config{
		FaceURLTTL:         2 * time.Hour,
		RecentVideoURLTTL:  15 * 24 * time.Hour,
		DefaultVideoURLTTL: 24 * time.Hour,
		RecentWindow:       15 * 24 * time.Hour,
		FinalVideoURLTTL:   24 * time.Hour,
	}
	p := TTLPolicyFromConfig(cfg)
	if p.FaceTTL != cfg.FaceURLTTL {
		t.Fatalf("FaceTTL: want=%v got=%v", cfg.FaceURLTTL, p.FaceTTL)
	}
	if p.RecentVideoTTL != cfg.RecentVideoURLTTL {
		t.Fatalf("RecentVideoTTL: want=%v got=%v", cfg.RecentVideoURLTTL, p.RecentVideoTTL)
	}
}

func TestTTLFor(t *testing.T) {
	p := TTLPolicy{
		FaceTTL:         2 * time.Hour,
		RecentVideoTTL:  15 * 24 * time.Hour,
		DefaultVideoTTL: 24 * time.Hour,
		RecentWindow:    15 * 24 * time.Hour,
		FinalVideoTTL:   6 * time.Hour,
	}

	cases := []struct {
		name      string
		kind      string
		createdAt time.Time
		want      time.Duration
	}{
		{"face", "face", time.Now(), 2 * time.Hour},
		{"recent video", "video", time.Now().Add(-1 * time.Hour), 15 * 24 * time.Hour},
		{"old video", "video", time.Now().Add(-30 * 24 * time.Hour), 24 * time.Hour},
		{"video at window boundary", "video", time.Now().Add(-p.RecentWindow + time.Minute), 15 * 24 * time.Hour},
		{"longform final", "longform_final", time.Now(), 6 * time.Hour},
		{"unknown kind falls back to default", "unknown", time.Now(), 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.TTLFor(tc.kind, tc.createdAt)
			if got != tc.want {
				t.Fatalf("TTLFor(%q): want=%v got=%v", tc.kind, tc.want, got)
			}
		})
	}
}

func TestSplitBlobURL(t *testing.T) {
	s := &gcsSigner{
		bucketName: "studio-artifacts",
		publicHost: "storage.googleapis.com",
	}

	cases := []struct {
		name          string
		url           string
		wantContainer string
		wantPath      string
		wantOK        bool
	}{
		{
			name:          "matching bucket and host",
			url:           "https://storage.googleapis.com/studio-artifacts/faces/abc/1.png?X-Goog-Signature=deadbeef",
			wantContainer: "faces",
			wantPath:      "abc/1.png",
			wantOK:        true,
		},
		{
			name:   "wrong host is not eligible for re-signing",
			url:    "https://evil.example.com/studio-artifacts/faces/abc/1.png",
			wantOK: false,
		},
		{
			name:   "wrong bucket is not eligible for re-signing",
			url:    "https://storage.googleapis.com/other-bucket/faces/abc/1.png",
			wantOK: false,
		},
		{
			name:   "malformed url",
			url:    "://not-a-url",
			wantOK: false,
		},
		{
			name:   "missing object path",
			url:    "https://storage.googleapis.com/studio-artifacts",
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			container, path, ok := s.SplitBlobURL(tc.url)
			if ok != tc.wantOK {
				t.Fatalf("ok: want=%v got=%v", tc.wantOK, ok)
			}
			if !tc.wantOK {
				return
			}
			if container != tc.wantContainer {
				t.Fatalf("container: want=%q got=%q", tc.wantContainer, container)
			}
			if path != tc.wantPath {
				t.Fatalf("path: want=%q got=%q", tc.wantPath, path)
			}
		})
	}
}

func TestNewGCSSignerDefaultsPublicHost(t *testing.T) {
	s := NewGCSSigner(nil, GCSSignerConfig{BucketName: "studio-artifacts"}).(*gcsSigner)
	if s.publicHost != "storage.googleapis.com" {
		t.Fatalf("publicHost: want=%q got=%q", "storage.googleapis.com", s.publicHost)
	}
}
