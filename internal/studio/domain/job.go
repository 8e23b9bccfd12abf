package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job studio types. New studios must be added here and to every switch
// keyed on StudioType (worker dispatch, config caps, error taxonomy).
const (
	StudioFace     = "face"
	StudioAudio    = "audio"
	StudioFusion   = "fusion"
	StudioCommerce = "commerce"
	StudioMusic    = "music"
	StudioLongform = "longform"
)

// Job status values. Status progresses monotonically except for the
// requeue transition (running -> queued with a future NextRunAt) and the
// longform-only stitching intermediate (running -> stitching -> succeeded).
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobStitching = "stitching"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)

// Job is the unit of scheduling for every studio. Identity for idempotent
// submit is (UserID, StudioType, RequestHash) — enforced by a unique index.
type Job struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StudioType   string         `gorm:"column:studio_type;not null;uniqueIndex:idx_job_dedupe" json:"studio_type"`
	UserID       uuid.UUID      `gorm:"type:uuid;column:user_id;not null;uniqueIndex:idx_job_dedupe;index" json:"user_id"`
	RequestHash  string         `gorm:"column:request_hash;not null;uniqueIndex:idx_job_dedupe" json:"request_hash"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Stage        string         `gorm:"column:stage;not null;default:'';index" json:"stage"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message      string         `gorm:"column:message" json:"message,omitempty"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Meta         datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	ErrorCode    string         `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	AttemptCount int            `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	NextRunAt    *time.Time     `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	LockedAt     *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "job" }
