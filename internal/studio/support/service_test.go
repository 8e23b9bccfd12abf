package support

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
)

type fakeSupportRepo struct {
	sessions []*domain.SupportSession
	events   []*domain.SupportEvent
}

func (f *fakeSupportRepo) OpenSession(_ dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error) {
	s := &domain.SupportSession{
		ID:        uuid.New(),
		UserID:    userID,
		ProjectID: projectID,
		JobID:     jobID,
		Surface:   surface,
		Status:    domain.SupportSessionOpen,
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSupportRepo) GetOpenSession(_ dbctx.Context, userID uuid.UUID, projectID, jobID *uuid.UUID, surface string) (*domain.SupportSession, error) {
	for _, s := range f.sessions {
		if s.UserID == userID && s.Surface == surface && s.Status == domain.SupportSessionOpen {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSupportRepo) CloseSession(_ dbctx.Context, sessionID uuid.UUID) error {
	for _, s := range f.sessions {
		if s.ID == sessionID {
			s.Status = domain.SupportSessionClosed
		}
	}
	return nil
}

func (f *fakeSupportRepo) AppendEvent(_ dbctx.Context, ev *domain.SupportEvent) (*domain.SupportEvent, error) {
	if ev.ActorType == domain.SupportActorAdmin && ev.ImpersonatedUserID == nil {
		return nil, errImpersonatedRequired
	}
	ev.ID = uuid.New()
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeSupportRepo) ListEvents(_ dbctx.Context, sessionID uuid.UUID) ([]*domain.SupportEvent, error) {
	var out []*domain.SupportEvent
	for _, e := range f.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSupportRepo) VerifyChain(dbctx.Context, uuid.UUID) (bool, *uuid.UUID, error) {
	return true, nil, nil
}

var errImpersonatedRequired = &testErr{"impersonated_user_id required"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func newDBC() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestOpenOrReuseSessionReusesOpenSession(t *testing.T) {
	repo := &fakeSupportRepo{}
	svc := New(repo)
	userID := uuid.New()

	first, err := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "web")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "web")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("want the same open session reused, got %s and %s", first.ID, second.ID)
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("want exactly one session created, got %d", len(repo.sessions))
	}
}

func TestOpenOrReuseSessionOpensNewAfterClose(t *testing.T) {
	repo := &fakeSupportRepo{}
	svc := New(repo)
	userID := uuid.New()

	first, _ := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "web")
	if err := svc.CloseSession(newDBC(), first.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "web")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("want a new session after the prior one closed")
	}
	if len(repo.sessions) != 2 {
		t.Fatalf("want two sessions total, got %d", len(repo.sessions))
	}
}

func TestAppendUserEventSetsActor(t *testing.T) {
	repo := &fakeSupportRepo{}
	svc := New(repo)
	userID := uuid.New()
	session, _ := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "web")

	ev, err := svc.AppendUserEvent(newDBC(), session.ID, userID, EventInput{
		Kind:    domain.SupportEventUserMessage,
		Payload: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ActorType != domain.SupportActorUser || ev.ActorID != userID {
		t.Fatalf("want actor_type=user actor_id=%s, got %+v", userID, ev)
	}
}

func TestAppendAdminEventRecordsActorAndImpersonatedUser(t *testing.T) {
	repo := &fakeSupportRepo{}
	svc := New(repo)
	userID := uuid.New()
	adminID := uuid.New()
	session, _ := svc.OpenOrReuseSession(newDBC(), userID, nil, nil, "admin")

	ev, err := svc.AppendAdminEvent(newDBC(), session.ID, adminID, userID, EventInput{
		Kind:    domain.SupportEventAction,
		Payload: map[string]any{"action": "reset_quota"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ActorType != domain.SupportActorAdmin || ev.ActorID != adminID {
		t.Fatalf("want actor_type=admin actor_id=%s, got %+v", adminID, ev)
	}
	if ev.ImpersonatedUserID == nil || *ev.ImpersonatedUserID != userID {
		t.Fatalf("want impersonated_user_id=%s, got %+v", userID, ev.ImpersonatedUserID)
	}
}
