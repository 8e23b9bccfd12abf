package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SupportSessionOpen   = "open"
	SupportSessionClosed = "closed"
)

const (
	SupportEventSnapshot           = "snapshot"
	SupportEventAction             = "action"
	SupportEventUserMessage        = "user_message"
	SupportEventAssistantMessage   = "assistant_message"
	SupportEventSystem             = "system"
)

const (
	SupportActorUser  = "user"
	SupportActorAdmin = "admin"
)

// SupportSession groups a session's hash-chained event stream. Looked up
// by (user_id, project_id, surface, job_id) when deciding whether to reuse
// an existing open session or start a new one.
type SupportSession struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;column:user_id;not null;index" json:"user_id"`
	ProjectID *uuid.UUID `gorm:"type:uuid;column:project_id;index" json:"project_id,omitempty"`
	JobID     *uuid.UUID `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	Surface   string     `gorm:"column:surface;not null;index" json:"surface"`
	Status    string     `gorm:"column:status;not null;default:'open';index" json:"status"`
	CreatedAt time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (SupportSession) TableName() string { return "support_session" }

// SupportEvent is one entry in a per-session hash chain:
//
//	event_hash = H(session_id ‖ prev_hash ‖ canonical(payload) ‖ actor ‖ kind ‖ created_at)
//
// UserID is a legacy non-nullable column. For user-authored events it
// equals ActorID; for admin-authored events it equals ImpersonatedUserID,
// which the append path requires to be set.
type SupportEvent struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID          uuid.UUID      `gorm:"type:uuid;column:session_id;not null;index:idx_event_session_order,priority:1" json:"session_id"`
	Kind               string         `gorm:"column:kind;not null" json:"kind"`
	ActorType          string         `gorm:"column:actor_type;not null" json:"actor_type"`
	ActorID            uuid.UUID      `gorm:"type:uuid;column:actor_id;not null" json:"actor_id"`
	ImpersonatedUserID *uuid.UUID     `gorm:"type:uuid;column:impersonated_user_id" json:"impersonated_user_id,omitempty"`
	UserID             uuid.UUID      `gorm:"type:uuid;column:user_id;not null" json:"user_id"`
	Payload            datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	RequestID          string         `gorm:"column:request_id" json:"request_id,omitempty"`
	IP                 string         `gorm:"column:ip" json:"ip,omitempty"`
	UserAgent          string         `gorm:"column:user_agent" json:"user_agent,omitempty"`
	RetentionUntil     *time.Time     `gorm:"column:retention_until" json:"retention_until,omitempty"`
	PrevHash           string         `gorm:"column:prev_hash" json:"prev_hash,omitempty"`
	EventHash          string         `gorm:"column:event_hash;not null" json:"event_hash"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index:idx_event_session_order,priority:2" json:"created_at"`
}

func (SupportEvent) TableName() string { return "support_event" }
