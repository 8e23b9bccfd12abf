package app

import (
	"net/http"
	"time"

	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"github.com/kestrelmedia/studioforge/internal/services"
	"gorm.io/gorm"
)

type Services struct {
	Auth services.AuthService
	User services.UserService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	oidcVerifier, err := services.NewOIDCVerifier(&http.Client{Timeout: 10 * time.Second}, cfg.GoogleOIDCClientID, cfg.AppleOIDCClientID)
	if err != nil {
		log.Warn("OIDC verifier unconfigured, Google/Apple login disabled", "error", err)
		oidcVerifier = nil
	}

	authService := services.NewAuthService(
		db, log,
		repos.User,
		repos.UserToken,
		repos.UserIdentity,
		repos.OAuthNonce,
		oidcVerifier,
		cfg.JWTSecretKey,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		cfg.OAuthNonceTTL,
	)
	userService := services.NewUserService(db, log, repos.User, repos.UserPersonalizationPrefs)

	return Services{
		Auth: authService,
		User: userService,
	}, nil
}
