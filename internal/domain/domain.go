// Package domain re-exports the account-surface domain types (auth,
// user) this process still owns directly. The studio job system has its
// own domain package, internal/studio/domain, against its own tables.
package domain

import (
	"github.com/kestrelmedia/studioforge/internal/domain/auth"
	"github.com/kestrelmedia/studioforge/internal/domain/user"
)

type User = user.User
type UserPersonalizationPrefs = user.UserPersonalizationPrefs
type UserToken = auth.UserToken
type UserIdentity = auth.UserIdentity
type OAuthNonce = auth.OAuthNonce
