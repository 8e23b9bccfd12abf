// Package support is the business-logic layer atop repo.SupportRepo,
// grounded on SupportAuditService (support_audit.py): find-or-create
// session lookup plus the user/admin event split, layered over the
// repo's hash-chain append (spec.md §4.8).
package support

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
)

// EventInput carries the request-scoped metadata every append call needs
// beyond session id, kind, and payload.
type EventInput struct {
	Kind           string
	Payload        map[string]any
	RequestID      string
	IP             string
	UserAgent      string
	RetentionUntil *time.Time
}

type Service struct {
	Repo studiorepo.SupportRepo
}

func New(repo studiorepo.SupportRepo) *Service {
	return &Service{Repo: repo}
}

// OpenOrReuseSession composes GetOpenSession+OpenSession into the
// find-or-create semantics SupportAuditService.upsert_session exhibits:
// reuse the newest open session matching (user, project, job, surface),
// or start a fresh one if none is open.
func (s *Service) OpenOrReuseSession(dbc dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error) {
	existing, err := s.Repo.GetOpenSession(dbc, userID, projectID, jobID, surface)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.Repo.OpenSession(dbc, userID, projectID, jobID, surface)
}

// AppendUserEvent records an end-user-authored event. ActorID and the
// legacy UserID column are both the acting user.
func (s *Service) AppendUserEvent(dbc dbctx.Context, sessionID, userID uuid.UUID, in EventInput) (*domain.SupportEvent, error) {
	return s.Repo.AppendEvent(dbc, &domain.SupportEvent{
		SessionID:      sessionID,
		Kind:           in.Kind,
		ActorType:      domain.SupportActorUser,
		ActorID:        userID,
		Payload:        marshalPayload(in.Payload),
		RequestID:      in.RequestID,
		IP:             in.IP,
		UserAgent:      in.UserAgent,
		RetentionUntil: in.RetentionUntil,
	})
}

// AppendAdminEvent records an admin/support-authored event acting on
// behalf of impersonatedUserID. A uuid.Nil impersonatedUserID is rejected
// with studiorepo.ErrImpersonatedUserRequired; this wrapper otherwise just
// gives the caller the same two-method split the original service exposes.
func (s *Service) AppendAdminEvent(dbc dbctx.Context, sessionID, adminID, impersonatedUserID uuid.UUID, in EventInput) (*domain.SupportEvent, error) {
	if impersonatedUserID == uuid.Nil {
		return nil, studiorepo.ErrImpersonatedUserRequired
	}
	return s.Repo.AppendEvent(dbc, &domain.SupportEvent{
		SessionID:          sessionID,
		Kind:               in.Kind,
		ActorType:          domain.SupportActorAdmin,
		ActorID:            adminID,
		ImpersonatedUserID: &impersonatedUserID,
		Payload:            marshalPayload(in.Payload),
		RequestID:          in.RequestID,
		IP:                 in.IP,
		UserAgent:          in.UserAgent,
		RetentionUntil:     in.RetentionUntil,
	})
}

func (s *Service) ListEvents(dbc dbctx.Context, sessionID uuid.UUID) ([]*domain.SupportEvent, error) {
	return s.Repo.ListEvents(dbc, sessionID)
}

func (s *Service) CloseSession(dbc dbctx.Context, sessionID uuid.UUID) error {
	return s.Repo.CloseSession(dbc, sessionID)
}

// VerifyChain pass-through: reports the first tampered event, if any.
func (s *Service) VerifyChain(dbc dbctx.Context, sessionID uuid.UUID) (ok bool, brokenAt *uuid.UUID, err error) {
	return s.Repo.VerifyChain(dbc, sessionID)
}

func marshalPayload(m map[string]any) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}
