package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DashboardCache is a per-user materialized view. UserID is the primary
// key — one row per user.
type DashboardCache struct {
	UserID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	GaugesJSON        datatypes.JSON `gorm:"column:gauges_json;type:jsonb" json:"gauges_json"`
	AlertsJSON        datatypes.JSON `gorm:"column:alerts_json;type:jsonb" json:"alerts_json"`
	FaceCarouselJSON  datatypes.JSON `gorm:"column:face_carousel_json;type:jsonb" json:"face_carousel_json"`
	VideoCarouselJSON datatypes.JSON `gorm:"column:video_carousel_json;type:jsonb" json:"video_carousel_json"`
	HeaderJSON        datatypes.JSON `gorm:"column:header_json;type:jsonb" json:"header_json"`
	UpdatedAt         time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (DashboardCache) TableName() string { return "dashboard_cache" }

// DashboardRefreshRequest is a coalesced per-user refresh signal. At most
// one outstanding row per user (enforced by a unique index on user_id); the
// refresh worker claims and deletes batches of these under skip-locked.
type DashboardRefreshRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;column:user_id;not null;uniqueIndex" json:"user_id"`
	Reason    string    `gorm:"column:reason" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (DashboardRefreshRequest) TableName() string { return "dashboard_refresh_request" }
