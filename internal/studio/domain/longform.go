package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LongformSegment status values.
const (
	SegmentQueued       = "queued"
	SegmentAudioRunning = "audio_running"
	SegmentVideoRunning = "video_running"
	SegmentSucceeded    = "succeeded"
	SegmentFailed       = "failed"
)

const (
	VoiceGenderAuto   = "auto"
	VoiceGenderManual = "manual"
)

// LongformJob is the parent row of a long-form build; it shares its ID
// with the owning Job (one-to-one).
type LongformJob struct {
	JobID              uuid.UUID      `gorm:"type:uuid;column:job_id;primaryKey" json:"job_id"`
	TotalSegments      int            `gorm:"column:total_segments;not null" json:"total_segments"`
	CompletedSegments  int            `gorm:"column:completed_segments;not null;default:0" json:"completed_segments"`
	AspectRatio        string         `gorm:"column:aspect_ratio" json:"aspect_ratio"`
	SegmentSeconds     int            `gorm:"column:segment_seconds;not null" json:"segment_seconds"`
	MaxSegmentSeconds  int            `gorm:"column:max_segment_seconds;not null" json:"max_segment_seconds"`
	VoiceConfig        datatypes.JSON `gorm:"column:voice_config;type:jsonb" json:"voice_config"`
	VoiceGenderMode    string         `gorm:"column:voice_gender_mode;not null;default:'auto'" json:"voice_gender_mode"`
	FinalStoragePath   *string        `gorm:"column:final_storage_path" json:"final_storage_path,omitempty"`
	FinalVideoURL      string         `gorm:"column:final_video_url" json:"final_video_url,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (LongformJob) TableName() string { return "longform_job" }

// LongformSegment is one chunk of a long-form script and its sub-pipeline
// state (TTS -> face-video -> done). Segments across a parent may run in
// parallel up to the in-flight cap; ordering is restored only at stitch.
type LongformSegment struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LongformJobID      uuid.UUID `gorm:"type:uuid;column:longform_job_id;not null;index:idx_segment_parent_order,priority:1" json:"longform_job_id"`
	SegmentIndex       int       `gorm:"column:segment_index;not null;index:idx_segment_parent_order,priority:2" json:"segment_index"`
	Status             string    `gorm:"column:status;not null;index" json:"status"`
	TextChunk          string    `gorm:"column:text_chunk;not null" json:"text_chunk"`
	DurationSec        int       `gorm:"column:duration_sec;not null" json:"duration_sec"`
	AudioURL           *string   `gorm:"column:audio_url" json:"audio_url,omitempty"`
	AudioArtifactID    *uuid.UUID `gorm:"type:uuid;column:audio_artifact_id" json:"audio_artifact_id,omitempty"`
	FusionJobID        *string   `gorm:"column:fusion_job_id" json:"fusion_job_id,omitempty"`
	SegmentVideoURL    *string   `gorm:"column:segment_video_url" json:"segment_video_url,omitempty"`
	SegmentStoragePath *string   `gorm:"column:segment_storage_path" json:"segment_storage_path,omitempty"`
	ErrorCode          string    `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage       string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt          time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (LongformSegment) TableName() string { return "longform_segment" }
