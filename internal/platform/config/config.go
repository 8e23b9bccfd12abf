// Package config assembles the studio job system's env-driven
// configuration surface (spec.md §6) into one typed struct, following the
// teacher's utils.GetEnv-style helpers.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the configuration surface enumerated in spec.md §6.
type Config struct {
	WorkerPollInterval time.Duration
	WorkerBatchSize    int
	MaxInflightPerJob  int

	JobStaleAfter time.Duration // 0 disables stale reclaim

	ProviderPollInterval   time.Duration
	ProviderTotalDeadline  time.Duration

	// URL TTLs per artifact kind, per spec.md §4.6.
	FaceURLTTL          time.Duration
	RecentVideoURLTTL   time.Duration
	DefaultVideoURLTTL  time.Duration
	RecentWindow        time.Duration
	FinalVideoURLTTL    time.Duration

	// Long-form caps.
	MaxTotalSegmentsPerJob int
	MaxSegmentSeconds      int // hard cap, never exceeds 120
	TargetSegmentSeconds   int
	WordsPerMinute         int

	// Safety model.
	BlockedKeywords []string

	// Storage containers per artifact kind.
	StorageContainers map[string]string

	// Dashboard cache.
	DashboardStaleAfter         time.Duration
	DashboardForceRefreshOnMiss bool
	DashboardWorkerBatchSize    int
	DashboardWorkerPollInterval time.Duration

	JWTSecretKey    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ServiceBearerToken authenticates internal service-to-service calls
	// to the studio API (spec.md §6): a caller presenting this bearer
	// token must also set X-Actor-User-Id, the user identity it acts on
	// behalf of.
	ServiceBearerToken string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	GCSBucket          string
	GCSEmulatorHost    string
	RedisAddr          string

	// Provider HTTP clients: a (base_url, api_key) pair per studio
	// provider, all composing providerhttp.Client; ProviderMaxRetries is
	// shared by all of them.
	TTSProviderName         string
	TTSBaseURL              string
	TTSAPIKey               string
	ImageProviderName       string
	ImageBaseURL            string
	ImageAPIKey             string
	FaceVideoProviderName   string
	FaceVideoBaseURL        string
	FaceVideoAPIKey         string
	MusicProviderName       string
	MusicBaseURL            string
	MusicAPIKey             string
	ProviderMaxRetries      int
}

// Load reads every field from the environment, falling back to production
// defaults tuned from spec.md §4.9's dashboard TTL policy and §4.7's
// long-form caps.
func Load() Config {
	return Config{
		WorkerPollInterval: durEnv("WORKER_POLL_INTERVAL", 1*time.Second),
		WorkerBatchSize:    intEnv("WORKER_BATCH_SIZE", 5),
		MaxInflightPerJob:  intEnv("MAX_INFLIGHT_PER_JOB", 3),

		JobStaleAfter: durEnv("JOB_STALE_AFTER", 10*time.Minute),

		ProviderPollInterval:  durEnv("PROVIDER_POLL_INTERVAL", 3*time.Second),
		ProviderTotalDeadline: durEnv("PROVIDER_TOTAL_DEADLINE", 15*time.Minute),

		FaceURLTTL:         durEnv("FACE_URL_TTL", 2*time.Hour),
		RecentVideoURLTTL:  durEnv("RECENT_VIDEO_URL_TTL", 15*24*time.Hour),
		DefaultVideoURLTTL: durEnv("DEFAULT_VIDEO_URL_TTL", 24*time.Hour),
		RecentWindow:       durEnv("RECENT_WINDOW", 15*24*time.Hour),
		FinalVideoURLTTL:   durEnv("FINAL_VIDEO_URL_TTL", 24*time.Hour),

		MaxTotalSegmentsPerJob: intEnv("MAX_TOTAL_SEGMENTS_PER_JOB", 20),
		MaxSegmentSeconds:      clampInt(intEnv("MAX_SEGMENT_SECONDS", 120), 1, 120),
		TargetSegmentSeconds:   intEnv("TARGET_SEGMENT_SECONDS", 60),
		WordsPerMinute:         intEnv("WORDS_PER_MINUTE", 150),

		BlockedKeywords: splitEnv("BLOCKED_KEYWORDS", nil),

		StorageContainers: map[string]string{
			"audio": strEnv("STORAGE_CONTAINER_AUDIO", "audio"),
			"image": strEnv("STORAGE_CONTAINER_IMAGE", "images"),
			"video": strEnv("STORAGE_CONTAINER_VIDEO", "videos"),
			"face":  strEnv("STORAGE_CONTAINER_FACE", "faces"),
		},

		DashboardStaleAfter:         durEnv("DASHBOARD_STALE_AFTER", 30*time.Second),
		DashboardForceRefreshOnMiss: boolEnv("DASHBOARD_FORCE_REFRESH_ON_MISS", true),
		DashboardWorkerBatchSize:    intEnv("DASHBOARD_WORKER_BATCH_SIZE", 20),
		DashboardWorkerPollInterval: durEnv("DASHBOARD_WORKER_POLL_INTERVAL", 2*time.Second),

		TTSProviderName:       strEnv("TTS_PROVIDER_NAME", "tts"),
		TTSBaseURL:            strEnv("TTS_BASE_URL", ""),
		TTSAPIKey:             strEnv("TTS_API_KEY", ""),
		ImageProviderName:     strEnv("IMAGE_PROVIDER_NAME", "image"),
		ImageBaseURL:          strEnv("IMAGE_BASE_URL", ""),
		ImageAPIKey:           strEnv("IMAGE_API_KEY", ""),
		FaceVideoProviderName: strEnv("FACEVIDEO_PROVIDER_NAME", "facevideo"),
		FaceVideoBaseURL:      strEnv("FACEVIDEO_BASE_URL", ""),
		FaceVideoAPIKey:       strEnv("FACEVIDEO_API_KEY", ""),
		MusicProviderName:     strEnv("MUSIC_PROVIDER_NAME", "music"),
		MusicBaseURL:          strEnv("MUSIC_BASE_URL", ""),
		MusicAPIKey:           strEnv("MUSIC_API_KEY", ""),
		ProviderMaxRetries:    intEnv("PROVIDER_MAX_RETRIES", 3),

		JWTSecretKey:    strEnv("JWT_SECRET_KEY", ""),
		AccessTokenTTL:  durEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: durEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		ServiceBearerToken: strEnv("STUDIO_SERVICE_BEARER_TOKEN", ""),

		PostgresHost:     strEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     strEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     strEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: strEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       strEnv("POSTGRES_NAME", "studioforge"),

		GCSBucket:       strEnv("GCS_BUCKET", ""),
		GCSEmulatorHost: strEnv("STORAGE_EMULATOR_HOST", ""),
		RedisAddr:       strEnv("REDIS_ADDR", "localhost:6379"),
	}
}

func strEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func intEnv(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func durEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitEnv(name string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
