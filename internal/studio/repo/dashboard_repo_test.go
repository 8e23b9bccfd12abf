package repo_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/repo"
	"github.com/kestrelmedia/studioforge/internal/studio/repo/testutil"
)

func TestDashboardRepoUpsertOverwritesOnConflict(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewDashboardRepo(db, testutil.Logger(t))

	userID := uuid.New()
	if err := r.Upsert(dbc, &domain.DashboardCache{
		UserID:     userID,
		GaugesJSON: []byte(`{"renders_used":1}`),
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	if err := r.Upsert(dbc, &domain.DashboardCache{
		UserID:     userID,
		GaugesJSON: []byte(`{"renders_used":5}`),
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := r.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.GaugesJSON) != `{"renders_used":5}` {
		t.Fatalf("want overwritten gauges json, got=%s", got.GaugesJSON)
	}
}

func TestDashboardRepoRequestRefreshCoalesces(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewDashboardRepo(db, testutil.Logger(t))

	userID := uuid.New()
	if err := r.RequestRefresh(dbc, userID, "job_succeeded"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := r.RequestRefresh(dbc, userID, "job_succeeded_again"); err != nil {
		t.Fatalf("second request: %v", err)
	}

	batch, err := r.ClaimRefreshBatch(dbc, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("a burst of refresh triggers for one user must coalesce into a single pending request, got=%d", len(batch))
	}
	if batch[0].UserID != userID {
		t.Fatalf("unexpected user in batch: %+v", batch[0])
	}
}

func TestDashboardRepoClaimRefreshBatchDeletesClaimed(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := repo.NewDashboardRepo(db, testutil.Logger(t))

	userA, userB := uuid.New(), uuid.New()
	if err := r.RequestRefresh(dbc, userA, "x"); err != nil {
		t.Fatalf("request a: %v", err)
	}
	if err := r.RequestRefresh(dbc, userB, "x"); err != nil {
		t.Fatalf("request b: %v", err)
	}

	first, err := r.ClaimRefreshBatch(dbc, 1)
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("want batch of 1, got=%d", len(first))
	}

	second, err := r.ClaimRefreshBatch(dbc, 10)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("claimed requests must be deleted so a later claim doesn't reprocess them, got=%d", len(second))
	}
	if second[0].UserID == first[0].UserID {
		t.Fatalf("second batch should contain the remaining user, not the already-claimed one")
	}
}
