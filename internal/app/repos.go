package app

import (
	"github.com/kestrelmedia/studioforge/internal/data/repos"
	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"gorm.io/gorm"
)

// Repos holds the repositories backing the account surface this process
// still owns directly (auth, identity, profile). The studio domain's own
// repos (job/support/dashboard) are wired separately in mountStudioRoutes,
// against internal/studio/domain's own tables.
type Repos struct {
	User                   repos.UserRepo
	UserToken              repos.UserTokenRepo
	UserIdentity           repos.UserIdentityRepo
	OAuthNonce             repos.OAuthNonceRepo
	UserPersonalizationPrefs repos.UserPersonalizationPrefsRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:                   repos.NewUserRepo(db, log),
		UserToken:              repos.NewUserTokenRepo(db, log),
		UserIdentity:           repos.NewUserIdentityRepo(db, log),
		OAuthNonce:             repos.NewOAuthNonceRepo(db, log),
		UserPersonalizationPrefs: repos.NewUserPersonalizationPrefsRepo(db, log),
	}
}
