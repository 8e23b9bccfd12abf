// Package studio is the gin HTTP surface for the studio job system
// (spec.md §6): submit/get_status/list for all six studios, the Music
// HITL candidate-selection poll, support-session audit endpoints, and the
// dashboard home read. Handlers parse/validate, delegate to the repo and
// service layers in internal/studio, and translate apierr.Error into an
// HTTP response — no business logic lives here, mirroring how thin
// internal/handlers is in the teacher's own API surface.
package studio

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	"github.com/kestrelmedia/studioforge/internal/requestdata"
	"github.com/kestrelmedia/studioforge/internal/services"
	types "github.com/kestrelmedia/studioforge/internal/domain"
)

// RequireActor resolves the calling user for every studio route, per
// spec.md §6: a user bearer token resolves to its own subject, while a
// service bearer (the shared secret in cfg.ServiceBearerToken) must carry
// X-Actor-User-Id naming the user it acts on behalf of, validated against
// the users table.
func RequireActor(authSvc services.AuthService, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
			return
		}

		if cfg.ServiceBearerToken != "" && token == cfg.ServiceBearerToken {
			actorID, apiErr := resolveActorHeader(c, db)
			if apiErr != nil {
				writeAPIErr(c, apiErr)
				return
			}
			ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: actorID})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		ctx, err := authSvc.SetContextFromToken(c.Request.Context(), token)
		if err != nil {
			writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeInvalidToken), err))
			return
		}
		c.Request = c.Request.WithContext(ctx)
		rd := requestdata.GetRequestData(ctx)
		if rd == nil || rd.UserID == uuid.Nil {
			writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeInvalidToken), nil))
			return
		}
		c.Next()
	}
}

func resolveActorHeader(c *gin.Context, db *gorm.DB) (uuid.UUID, *apierr.Error) {
	raw := strings.TrimSpace(c.GetHeader("X-Actor-User-Id"))
	if raw == "" {
		return uuid.Nil, apierr.New(http.StatusBadRequest, string(apierr.CodeMissingActorUserID), nil)
	}
	actorID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err)
	}
	var user types.User
	err = db.WithContext(c.Request.Context()).Where("id = ?", actorID).First(&user).Error
	if err != nil {
		return uuid.Nil, apierr.New(http.StatusNotFound, string(apierr.CodeActorUserNotFound), err)
	}
	return actorID, nil
}

func extractBearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// writeAPIErr maps an apierr.Error to its HTTP response and aborts the
// chain. An Error without a Status is sent as 500.
func writeAPIErr(c *gin.Context, e *apierr.Error) {
	if e == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "unknown error"}})
		return
	}
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": e.Error(), "code": e.Code}})
}

func actorUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return rd.UserID, true
}
