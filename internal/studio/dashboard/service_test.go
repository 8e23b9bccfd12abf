package dashboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/dashboard"
	"github.com/kestrelmedia/studioforge/internal/studio/repo"
	"github.com/kestrelmedia/studioforge/internal/studio/repo/testutil"
)

func newService(t *testing.T, db *gorm.DB) *dashboard.Service {
	t.Helper()
	cfg := config.Load()
	cfg.DashboardStaleAfter = 0
	repoImpl := repo.NewDashboardRepo(db, testutil.Logger(t))
	return dashboard.New(db, repoImpl, nil, cfg, testutil.Logger(t))
}

func TestGetHomeComputesOnColdMiss(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := newService(t, tx)

	userID := uuid.New()
	if err := tx.Create(&domain.Job{
		ID: uuid.New(), StudioType: domain.StudioFace, UserID: userID,
		RequestHash: "h1", Status: domain.JobSucceeded,
	}).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	home, err := svc.GetHome(context.Background(), userID, false)
	if err != nil {
		t.Fatalf("GetHome: %v", err)
	}
	if home.UpdatedAt == nil {
		t.Fatalf("want a computed cache row on cold miss, got empty contract")
	}
	if home.Gauges["succeeded"] != float64(1) && home.Gauges["succeeded"] != int64(1) {
		t.Fatalf("want 1 succeeded job counted, got %+v", home.Gauges)
	}
}

func TestGetHomeEnqueuesRefreshWhenStale(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := newService(t, tx)

	userID := uuid.New()
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := repo.NewDashboardRepo(tx, testutil.Logger(t)).Upsert(dbc, &domain.DashboardCache{
		UserID:     userID,
		UpdatedAt:  time.Now().Add(-time.Hour),
		GaugesJSON: []byte(`{}`),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if _, err := svc.GetHome(context.Background(), userID, false); err != nil {
		t.Fatalf("GetHome: %v", err)
	}

	claimed, err := repo.NewDashboardRepo(tx, testutil.Logger(t)).ClaimRefreshBatch(dbc, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].UserID != userID {
		t.Fatalf("want a stale_home refresh request enqueued, got %+v", claimed)
	}
}

func TestProcessRefreshBatchComputesAndClears(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := newService(t, tx)

	userID := uuid.New()
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repoImpl := repo.NewDashboardRepo(tx, testutil.Logger(t))
	if err := repoImpl.RequestRefresh(dbc, userID, "manual"); err != nil {
		t.Fatalf("request refresh: %v", err)
	}

	n, err := svc.ProcessRefreshBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 request processed, got %d", n)
	}

	cache, err := repoImpl.Get(dbc, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cache == nil {
		t.Fatalf("want a computed cache row after refresh")
	}

	remaining, err := repoImpl.ClaimRefreshBatch(dbc, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("want the refresh request cleared, got %+v", remaining)
	}
}
