package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProviderRun status values, per spec §4.5.
const (
	ProviderRunCreated   = "created"
	ProviderRunQueued    = "queued"
	ProviderRunSubmitted = "submitted"
	ProviderRunRunning   = "running"
	ProviderRunSucceeded = "succeeded"
	ProviderRunFailed    = "failed"
)

// ProviderRun tracks one logical outbound call to an external provider.
// IdempotencyKey is globally unique: a retry with the same key must update
// the existing row rather than insert a second one.
type ProviderRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	Provider       string         `gorm:"column:provider;not null;index" json:"provider"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	ProviderJobID  *string        `gorm:"column:provider_job_id;index" json:"provider_job_id,omitempty"`
	ProviderStatus string         `gorm:"column:provider_status;not null;index" json:"provider_status"`
	Request        datatypes.JSON `gorm:"column:request;type:jsonb" json:"request"`
	Response       datatypes.JSON `gorm:"column:response;type:jsonb" json:"response"`
	Meta           datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (ProviderRun) TableName() string { return "provider_run" }

// FusionPerformance is the fusion processor's output row, keyed by
// (provider, provider_job_id) — a partial unique index active only when
// provider_job_id IS NOT NULL, since a fusion attempt may fail before a
// provider_job_id is ever assigned. GORM's declarative tags can't express
// a partial index, so the uniqueness is enforced in application code: the
// repo attempts an insert first and falls back to an update on conflict
// (spec.md §4.4 Fusion processor).
type FusionPerformance struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID         uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	Provider      string         `gorm:"column:provider;not null" json:"provider"`
	ProviderJobID *string        `gorm:"column:provider_job_id;index" json:"provider_job_id,omitempty"`
	VideoURL      string         `gorm:"column:video_url" json:"video_url,omitempty"`
	ArtifactID    *uuid.UUID     `gorm:"type:uuid;column:artifact_id" json:"artifact_id,omitempty"`
	Meta          datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (FusionPerformance) TableName() string { return "fusion_performance" }
