package studio

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/config"
	"github.com/kestrelmedia/studioforge/internal/services"
)

// RouterConfig wires the handlers this package exposes onto a gin
// group. It is meant to be mounted onto the same *gin.Engine
// internal/server.NewRouter builds, not to stand up its own server.
type RouterConfig struct {
	DB      *gorm.DB
	AuthSvc services.AuthService
	Cfg     config.Config

	Jobs      *JobsHandler
	Support   *SupportHandler
	Dashboard *DashboardHandler
	Events    *EventsHandler
}

// Mount registers every studio route under group "/api/studio", each
// behind RequireActor (spec.md §6's dual user/service bearer contract).
func Mount(router gin.IRouter, cfg RouterConfig) {
	studioGroup := router.Group("/api/studio")
	studioGroup.Use(RequireActor(cfg.AuthSvc, cfg.DB, cfg.Cfg))

	studioGroup.POST("/:studio_type/jobs", cfg.Jobs.Submit)
	studioGroup.GET("/jobs", cfg.Jobs.List)
	studioGroup.GET("/jobs/:job_id", cfg.Jobs.GetStatus)
	studioGroup.POST("/jobs/:job_id/select-candidate", cfg.Jobs.SelectCandidate)

	if cfg.Support != nil {
		studioGroup.POST("/support/sessions", cfg.Support.OpenSession)
		studioGroup.POST("/support/sessions/:session_id/events", cfg.Support.AppendEvent)
		studioGroup.GET("/support/sessions/:session_id/events", cfg.Support.ListEvents)
		studioGroup.POST("/support/sessions/:session_id/close", cfg.Support.CloseSession)
		studioGroup.GET("/support/sessions/:session_id/verify", cfg.Support.VerifyChain)
	}

	if cfg.Dashboard != nil {
		studioGroup.GET("/dashboard", cfg.Dashboard.GetHome)
		studioGroup.POST("/dashboard/refresh", cfg.Dashboard.RequestRefresh)
	}

	if cfg.Events != nil {
		studioGroup.GET("/events", cfg.Events.Stream)
	}
}
