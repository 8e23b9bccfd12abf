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

func newLongformJob(t *testing.T, dbc dbctx.Context, jobRepo repo.JobRepo, lfRepo repo.LongformRepo, totalSegments int) *domain.LongformJob {
	t.Helper()
	job, err := jobRepo.Submit(dbc, uuid.New(), domain.StudioLongform, []byte(`{"script_text":"x"}`), nil)
	if err != nil {
		t.Fatalf("submit parent job: %v", err)
	}
	parent, err := lfRepo.CreateParent(dbc, &domain.LongformJob{
		JobID:             job.ID,
		TotalSegments:     totalSegments,
		SegmentSeconds:    60,
		MaxSegmentSeconds: 120,
		VoiceConfig:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	segments := make([]*domain.LongformSegment, 0, totalSegments)
	for i := 0; i < totalSegments; i++ {
		segments = append(segments, &domain.LongformSegment{
			LongformJobID: job.ID,
			SegmentIndex:  i,
			Status:        domain.SegmentQueued,
			TextChunk:     "segment text",
			DurationSec:   30,
		})
	}
	if _, err := lfRepo.CreateSegments(dbc, segments); err != nil {
		t.Fatalf("create segments: %v", err)
	}
	return parent
}

func TestLongformRepoClaimNextSegmentRespectsInFlightCap(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	lfRepo := repo.NewLongformRepo(db, testutil.Logger(t))

	parent := newLongformJob(t, dbc, jobRepo, lfRepo, 3)

	first, err := lfRepo.ClaimNextSegment(dbc, parent.JobID, 2)
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if first == nil || first.SegmentIndex != 0 {
		t.Fatalf("want segment 0 claimed first, got=%+v", first)
	}

	second, err := lfRepo.ClaimNextSegment(dbc, parent.JobID, 2)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if second == nil || second.SegmentIndex != 1 {
		t.Fatalf("want segment 1 claimed second, got=%+v", second)
	}

	third, err := lfRepo.ClaimNextSegment(dbc, parent.JobID, 2)
	if err != nil {
		t.Fatalf("claim 3: %v", err)
	}
	if third != nil {
		t.Fatalf("in-flight cap of 2 reached, want nil claim, got=%+v", third)
	}

	if err := lfRepo.UpdateSegment(dbc, first.ID, map[string]interface{}{"status": domain.SegmentSucceeded}); err != nil {
		t.Fatalf("mark first succeeded: %v", err)
	}

	fourth, err := lfRepo.ClaimNextSegment(dbc, parent.JobID, 2)
	if err != nil {
		t.Fatalf("claim 4: %v", err)
	}
	if fourth == nil || fourth.SegmentIndex != 2 {
		t.Fatalf("freeing an in-flight slot should allow segment 2 to claim, got=%+v", fourth)
	}
}

func TestLongformRepoRecountCompleted(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	lfRepo := repo.NewLongformRepo(db, testutil.Logger(t))

	parent := newLongformJob(t, dbc, jobRepo, lfRepo, 2)
	segs, err := lfRepo.ListSegmentsOrdered(dbc, parent.JobID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	for _, seg := range segs {
		if err := lfRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{"status": domain.SegmentSucceeded}); err != nil {
			t.Fatalf("mark succeeded: %v", err)
		}
	}
	if err := lfRepo.RecountCompleted(dbc, parent.JobID); err != nil {
		t.Fatalf("recount: %v", err)
	}
	got, err := lfRepo.GetParent(dbc, parent.JobID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if got.CompletedSegments != 2 {
		t.Fatalf("want completed_segments=2, got=%d", got.CompletedSegments)
	}
}

func TestLongformRepoClaimNextStitching(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	jobRepo := repo.NewJobRepo(db, testutil.Logger(t))
	lfRepo := repo.NewLongformRepo(db, testutil.Logger(t))

	parent := newLongformJob(t, dbc, jobRepo, lfRepo, 1)

	none, err := lfRepo.ClaimNextStitching(dbc)
	if err != nil {
		t.Fatalf("claim before transition: %v", err)
	}
	if none != nil {
		t.Fatalf("no job is in stitching status yet, want nil, got=%+v", none)
	}

	if err := jobRepo.UpdateFields(dbc, parent.JobID, map[string]interface{}{"status": domain.JobStitching}); err != nil {
		t.Fatalf("transition to stitching: %v", err)
	}

	claimed, err := lfRepo.ClaimNextStitching(dbc)
	if err != nil {
		t.Fatalf("claim stitching: %v", err)
	}
	if claimed == nil || claimed.JobID != parent.JobID {
		t.Fatalf("want to claim %s, got=%+v", parent.JobID, claimed)
	}
}
