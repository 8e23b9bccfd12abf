package repos

import (
	"github.com/kestrelmedia/studioforge/internal/data/repos/auth"
	"github.com/kestrelmedia/studioforge/internal/data/repos/user"
	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"gorm.io/gorm"
)

type UserRepo = user.UserRepo
type UserPersonalizationPrefsRepo = user.UserPersonalizationPrefsRepo
type UserTokenRepo = auth.UserTokenRepo
type UserIdentityRepo = auth.UserIdentityRepo
type OAuthNonceRepo = auth.OAuthNonceRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return user.NewUserRepo(db, baseLog) }
func NewUserPersonalizationPrefsRepo(db *gorm.DB, baseLog *logger.Logger) UserPersonalizationPrefsRepo {
	return user.NewUserPersonalizationPrefsRepo(db, baseLog)
}
func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
	return auth.NewUserTokenRepo(db, baseLog)
}
func NewUserIdentityRepo(db *gorm.DB, baseLog *logger.Logger) UserIdentityRepo {
	return auth.NewUserIdentityRepo(db, baseLog)
}
func NewOAuthNonceRepo(db *gorm.DB, baseLog *logger.Logger) OAuthNonceRepo {
	return auth.NewOAuthNonceRepo(db, baseLog)
}
