package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// ErrImpersonatedUserRequired is returned by AppendEvent when an
// actor_type="admin" event omits impersonated_user_id (spec.md §4.8's
// admin-event invariant).
var ErrImpersonatedUserRequired = errors.New("support: admin events require impersonated_user_id")

// SupportRepo is the tamper-evident Support Audit Log (spec.md §4.8): a
// per-session hash chain where every event's hash folds in the previous
// event's hash, so any row edited after the fact breaks the chain from
// that point forward.
type SupportRepo interface {
	OpenSession(dbc dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error)
	GetOpenSession(dbc dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error)
	CloseSession(dbc dbctx.Context, sessionID uuid.UUID) error

	// AppendEvent computes event_hash from the session's current tail and
	// inserts the new row inside the same transaction, so two concurrent
	// appends to the same session can never both observe the same prev_hash
	// (the session row lock below serializes them).
	AppendEvent(dbc dbctx.Context, ev *domain.SupportEvent) (*domain.SupportEvent, error)

	ListEvents(dbc dbctx.Context, sessionID uuid.UUID) ([]*domain.SupportEvent, error)

	// VerifyChain recomputes every event_hash in session order and reports
	// the first event whose stored hash does not match its recomputed
	// hash, or ok=true if the whole chain is intact.
	VerifyChain(dbc dbctx.Context, sessionID uuid.UUID) (ok bool, brokenAt *uuid.UUID, err error)
}

type supportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSupportRepo(db *gorm.DB, baseLog *logger.Logger) SupportRepo {
	return &supportRepo{db: db, log: baseLog.With("repo", "SupportRepo")}
}

func (r *supportRepo) OpenSession(dbc dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	s := &domain.SupportSession{
		ID:        uuid.New(),
		UserID:    userID,
		ProjectID: projectID,
		JobID:     jobID,
		Surface:   surface,
		Status:    domain.SupportSessionOpen,
	}
	if err := transaction.WithContext(dbc.Ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *supportRepo) GetOpenSession(dbc dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND surface = ? AND status = ?", userID, surface, domain.SupportSessionOpen)
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	} else {
		q = q.Where("project_id IS NULL")
	}
	if jobID != nil {
		q = q.Where("job_id = ?", *jobID)
	} else {
		q = q.Where("job_id IS NULL")
	}

	var s domain.SupportSession
	err := q.Order("created_at DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *supportRepo) CloseSession(dbc dbctx.Context, sessionID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.SupportSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     domain.SupportSessionClosed,
			"updated_at": time.Now(),
		}).Error
}

func (r *supportRepo) AppendEvent(dbc dbctx.Context, ev *domain.SupportEvent) (*domain.SupportEvent, error) {
	if ev.ActorType == domain.SupportActorAdmin && ev.ImpersonatedUserID == nil {
		return nil, ErrImpersonatedUserRequired
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var appended *domain.SupportEvent
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		// Lock the session row so concurrent appenders serialize on it;
		// the tail lookup below is then race-free.
		var session domain.SupportSession
		if lErr := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", ev.SessionID).First(&session).Error; lErr != nil {
			return lErr
		}

		var tail domain.SupportEvent
		prevHash := ""
		tErr := txx.Where("session_id = ?", ev.SessionID).
			Order("created_at DESC").
			First(&tail).Error
		if tErr == nil {
			prevHash = tail.EventHash
		} else if !errors.Is(tErr, gorm.ErrRecordNotFound) {
			return tErr
		}

		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.UserID == uuid.Nil {
			if ev.ActorType == domain.SupportActorAdmin {
				ev.UserID = *ev.ImpersonatedUserID
			} else {
				ev.UserID = ev.ActorID
			}
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		ev.CreatedAt = now
		ev.PrevHash = prevHash
		ev.EventHash = computeEventHash(ev)

		if cErr := txx.Create(ev).Error; cErr != nil {
			return cErr
		}
		appended = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// computeEventHash folds session_id, prev_hash, canonicalized payload,
// actor, kind and created_at into a single sha256 digest.
func computeEventHash(ev *domain.SupportEvent) string {
	h := sha256.New()
	h.Write([]byte(ev.SessionID.String()))
	h.Write([]byte{0})
	h.Write([]byte(ev.PrevHash))
	h.Write([]byte{0})
	h.Write(canonicalize(ev.Payload))
	h.Write([]byte{0})
	h.Write([]byte(ev.ActorType))
	h.Write([]byte{0})
	h.Write([]byte(ev.ActorID.String()))
	h.Write([]byte{0})
	h.Write([]byte(ev.Kind))
	h.Write([]byte{0})
	h.Write([]byte(ev.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *supportRepo) ListEvents(dbc dbctx.Context, sessionID uuid.UUID) ([]*domain.SupportEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.SupportEvent
	err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *supportRepo) VerifyChain(dbc dbctx.Context, sessionID uuid.UUID) (bool, *uuid.UUID, error) {
	events, err := r.ListEvents(dbc, sessionID)
	if err != nil {
		return false, nil, err
	}
	prevHash := ""
	for _, ev := range events {
		if ev.PrevHash != prevHash {
			id := ev.ID
			return false, &id, nil
		}
		want := computeEventHash(ev)
		if want != ev.EventHash {
			id := ev.ID
			return false, &id, nil
		}
		prevHash = ev.EventHash
	}
	return true, nil, nil
}
