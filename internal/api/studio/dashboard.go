package studio

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/studio/dashboard"
)

// DashboardHandler serves the per-user dashboard home view (spec.md
// §4.9): gauges, alerts, and the face/video carousels, re-signed at
// read time.
type DashboardHandler struct {
	Svc *dashboard.Service
}

func NewDashboardHandler(svc *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{Svc: svc}
}

// GET /api/studio/dashboard?refresh=1
func (h *DashboardHandler) GetHome(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	forceRefresh := isTruthy(c.Query("refresh"))

	home, err := h.Svc.GetHome(c.Request.Context(), userID, forceRefresh)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.JSON(http.StatusOK, home)
}

// POST /api/studio/dashboard/refresh
func (h *DashboardHandler) RequestRefresh(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	if err := h.Svc.RequestRefresh(c.Request.Context(), userID, "manual"); err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.Status(http.StatusAccepted)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
