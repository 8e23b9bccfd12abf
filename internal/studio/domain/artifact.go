package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Artifact kinds.
const (
	ArtifactAudio = "audio"
	ArtifactImage = "image"
	ArtifactVideo = "video"
	ArtifactFace  = "face"
)

// Artifact is a produced or uploaded media blob. url holds whatever was
// last signed for playback; meta.storage_path (when present) is the stable
// blob identity used to mint fresh signed URLs — url itself is never
// trusted as a long-lived pointer.
type Artifact struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID       *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	URL         string         `gorm:"column:url" json:"url"`
	ContentType string         `gorm:"column:content_type" json:"content_type"`
	SHA256      string         `gorm:"column:sha256;index" json:"sha256"`
	Bytes       int64          `gorm:"column:bytes" json:"bytes"`
	Meta        datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (Artifact) TableName() string { return "artifact" }

// MediaAsset is a user-owned reusable input (voice reference, face image,
// BYO audio). Its lifetime is independent of any job.
type MediaAsset struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;column:user_id;not null;index" json:"user_id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	URL         string         `gorm:"column:url" json:"url"`
	ContentType string         `gorm:"column:content_type" json:"content_type"`
	SHA256      string         `gorm:"column:sha256;index" json:"sha256"`
	Bytes       int64          `gorm:"column:bytes" json:"bytes"`
	DurationMS  *int           `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Meta        datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (MediaAsset) TableName() string { return "media_asset" }

// AssetMetaStoragePath is the meta key holding the stable blob identity
// used for re-signing. See internal/studio/artifacts.
const AssetMetaStoragePath = "storage_path"
