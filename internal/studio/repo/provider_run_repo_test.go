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

func TestProviderRunRepoCreateOrGetReusesIdempotencyKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	r := repo.NewProviderRunRepo(db, testutil.Logger(t))

	job, err := jobRepo.Submit(dbc, uuid.New(), domain.StudioAudio, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}

	key := "job:" + job.ID.String() + ":tts"
	first, err := r.CreateOrGet(dbc, job.ID, "azure-tts", key, []byte(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("first CreateOrGet: %v", err)
	}
	if first.ProviderStatus != domain.ProviderRunCreated {
		t.Fatalf("want created, got=%s", first.ProviderStatus)
	}

	second, err := r.CreateOrGet(dbc, job.ID, "azure-tts", key, []byte(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("second CreateOrGet: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("a retry with the same idempotency_key must resume the existing row, first=%s second=%s", first.ID, second.ID)
	}
}

func TestProviderRunRepoLifecycleTransitions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	r := repo.NewProviderRunRepo(db, testutil.Logger(t))

	job, err := jobRepo.Submit(dbc, uuid.New(), domain.StudioAudio, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	run, err := r.CreateOrGet(dbc, job.ID, "azure-tts", "key-1", nil)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	if err := r.MarkSubmitted(dbc, run.ID, "provider-job-1"); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	got, err := r.GetByIdempotencyKey(dbc, "key-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ProviderStatus != domain.ProviderRunSubmitted {
		t.Fatalf("want submitted, got=%s", got.ProviderStatus)
	}
	if got.ProviderJobID == nil || *got.ProviderJobID != "provider-job-1" {
		t.Fatalf("want provider_job_id recorded, got=%+v", got.ProviderJobID)
	}

	if err := r.MarkStatus(dbc, run.ID, domain.ProviderRunSucceeded, []byte(`{"url":"https://x"}`)); err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}
	got, err = r.GetByIdempotencyKey(dbc, "key-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ProviderStatus != domain.ProviderRunSucceeded {
		t.Fatalf("want succeeded, got=%s", got.ProviderStatus)
	}
}

func TestProviderRunRepoMarkFailed(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	r := repo.NewProviderRunRepo(db, testutil.Logger(t))

	job, err := jobRepo.Submit(dbc, uuid.New(), domain.StudioAudio, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	run, err := r.CreateOrGet(dbc, job.ID, "azure-tts", "key-fail", nil)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if err := r.MarkFailed(dbc, run.ID, []byte(`{"error":"quota exceeded"}`)); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err := r.GetByIdempotencyKey(dbc, "key-fail")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ProviderStatus != domain.ProviderRunFailed {
		t.Fatalf("want failed, got=%s", got.ProviderStatus)
	}
}

func TestProviderRunRepoUpsertFusionPerformanceInsertThenUpdateOnConflict(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	r := repo.NewProviderRunRepo(db, testutil.Logger(t))

	job, err := jobRepo.Submit(dbc, uuid.New(), domain.StudioFusion, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}

	providerJobID := "fusion-job-1"
	first, err := r.UpsertFusionPerformance(dbc, &domain.FusionPerformance{
		JobID:         job.ID,
		Provider:      "heygen",
		ProviderJobID: &providerJobID,
		Meta:          []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.VideoURL != "" {
		t.Fatalf("want empty video_url on first insert, got=%q", first.VideoURL)
	}

	second, err := r.UpsertFusionPerformance(dbc, &domain.FusionPerformance{
		JobID:         job.ID,
		Provider:      "heygen",
		ProviderJobID: &providerJobID,
		VideoURL:      "https://cdn/example.mp4",
		Meta:          []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("conflicting (provider, provider_job_id) must update the existing row, first=%s second=%s", first.ID, second.ID)
	}
	if second.VideoURL != "https://cdn/example.mp4" {
		t.Fatalf("want updated video_url, got=%q", second.VideoURL)
	}
}
