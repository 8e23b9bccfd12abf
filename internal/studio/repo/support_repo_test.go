package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/repo"
	"github.com/kestrelmedia/studioforge/internal/studio/repo/testutil"
)

func TestSupportRepoAppendEventChainsHashes(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewSupportRepo(db, testutil.Logger(t))

	userID := uuid.New()
	session, err := r.OpenSession(dbc, userID, nil, nil, "dashboard")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	first, err := r.AppendEvent(dbc, &domain.SupportEvent{
		SessionID: session.ID,
		Kind:      domain.SupportEventUserMessage,
		ActorType: domain.SupportActorUser,
		ActorID:   userID,
		Payload:   []byte(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("append first event: %v", err)
	}
	if first.PrevHash != "" {
		t.Fatalf("first event in a session must have empty prev_hash, got=%q", first.PrevHash)
	}

	second, err := r.AppendEvent(dbc, &domain.SupportEvent{
		SessionID: session.ID,
		Kind:      domain.SupportEventAssistantMessage,
		ActorType: domain.SupportActorUser,
		ActorID:   userID,
		Payload:   []byte(`{"text":"hello back"}`),
	})
	if err != nil {
		t.Fatalf("append second event: %v", err)
	}
	if second.PrevHash != first.EventHash {
		t.Fatalf("second event's prev_hash must equal first event's hash: want=%s got=%s", first.EventHash, second.PrevHash)
	}

	ok, brokenAt, err := r.VerifyChain(dbc, session.ID)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !ok || brokenAt != nil {
		t.Fatalf("freshly appended chain should verify intact, ok=%v brokenAt=%v", ok, brokenAt)
	}
}

func TestSupportRepoAppendEventRequiresImpersonatedUserForAdmin(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewSupportRepo(db, testutil.Logger(t))

	userID := uuid.New()
	session, err := r.OpenSession(dbc, userID, nil, nil, "dashboard")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	_, err = r.AppendEvent(dbc, &domain.SupportEvent{
		SessionID: session.ID,
		Kind:      domain.SupportEventAction,
		ActorType: domain.SupportActorAdmin,
		ActorID:   uuid.New(),
		Payload:   []byte(`{}`),
	})
	if !errors.Is(err, repo.ErrImpersonatedUserRequired) {
		t.Fatalf("want ErrImpersonatedUserRequired, got=%v", err)
	}
}

func TestSupportRepoVerifyChainDetectsTamperedPayload(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewSupportRepo(db, testutil.Logger(t))

	userID := uuid.New()
	session, err := r.OpenSession(dbc, userID, nil, nil, "dashboard")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	ev, err := r.AppendEvent(dbc, &domain.SupportEvent{
		SessionID: session.ID,
		Kind:      domain.SupportEventUserMessage,
		ActorType: domain.SupportActorUser,
		ActorID:   userID,
		Payload:   []byte(`{"text":"original"}`),
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	if err := tx.Model(&domain.SupportEvent{}).
		Where("id = ?", ev.ID).
		Update("payload", []byte(`{"text":"tampered"}`)).Error; err != nil {
		t.Fatalf("simulate tamper: %v", err)
	}

	ok, brokenAt, err := r.VerifyChain(dbc, session.ID)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if ok {
		t.Fatalf("a payload edited after the fact must break the chain")
	}
	if brokenAt == nil || *brokenAt != ev.ID {
		t.Fatalf("want brokenAt=%s, got=%v", ev.ID, brokenAt)
	}
}
