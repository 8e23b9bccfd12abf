package studio

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/studio/support"
)

// SupportHandler exposes the support-session hash-chain audit log
// (spec.md §4.8) as HTTP: open-or-reuse a session, append user events,
// list the chain, and verify it hasn't been tampered with.
type SupportHandler struct {
	Svc *support.Service
}

func NewSupportHandler(svc *support.Service) *SupportHandler {
	return &SupportHandler{Svc: svc}
}

// POST /api/studio/support/sessions
func (h *SupportHandler) OpenSession(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	var req struct {
		ProjectID *uuid.UUID `json:"project_id"`
		JobID     *uuid.UUID `json:"job_id"`
		Surface   string     `json:"surface"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), err))
		return
	}
	if req.Surface == "" {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), nil))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	session, err := h.Svc.OpenOrReuseSession(dbc, userID, req.ProjectID, req.JobID, req.Surface)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.JSON(http.StatusOK, session)
}

// POST /api/studio/support/sessions/:session_id/events
//
// Always recorded as a user-authored event: the support/admin
// impersonation path is an internal service-bearer-only concern and is
// not exposed on this user-facing route.
func (h *SupportHandler) AppendEvent(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}
	var req struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	event, err := h.Svc.AppendUserEvent(dbc, sessionID, userID, support.EventInput{
		Kind:      req.Kind,
		Payload:   req.Payload,
		RequestID: c.GetHeader("X-Request-Id"),
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.JSON(http.StatusCreated, event)
}

// GET /api/studio/support/sessions/:session_id/events
func (h *SupportHandler) ListEvents(c *gin.Context) {
	if _, ok := actorUserID(c); !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	events, err := h.Svc.ListEvents(dbc, sessionID)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// POST /api/studio/support/sessions/:session_id/close
func (h *SupportHandler) CloseSession(c *gin.Context) {
	if _, ok := actorUserID(c); !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.Svc.CloseSession(dbc, sessionID); err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/studio/support/sessions/:session_id/verify
func (h *SupportHandler) VerifyChain(c *gin.Context) {
	if _, ok := actorUserID(c); !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	ok, brokenAt, err := h.Svc.VerifyChain(dbc, sessionID)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	resp := gin.H{"ok": ok}
	if brokenAt != nil {
		resp["broken_at_event_id"] = brokenAt
	}
	c.JSON(http.StatusOK, resp)
}
