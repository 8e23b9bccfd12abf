package app

import (
	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"github.com/kestrelmedia/studioforge/internal/utils"
	"time"
)

type Config struct {
	JWTSecretKey     string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	OAuthNonceTTL    time.Duration
	GoogleOIDCClientID string
	AppleOIDCClientID  string
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTLSeconds := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	refreshTokenTTLSeconds := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)
	oauthNonceTTLSeconds := utils.GetEnvAsInt("OAUTH_NONCE_TTL", 300, log)
	return Config{
		JWTSecretKey:       jwtSecretKey,
		AccessTokenTTL:     time.Duration(accessTokenTTLSeconds) * time.Second,
		RefreshTokenTTL:    time.Duration(refreshTokenTTLSeconds) * time.Second,
		OAuthNonceTTL:      time.Duration(oauthNonceTTLSeconds) * time.Second,
		GoogleOIDCClientID: utils.GetEnv("GOOGLE_OIDC_CLIENT_ID", "", log),
		AppleOIDCClientID:  utils.GetEnv("APPLE_OIDC_CLIENT_ID", "", log),
	}
}
