package longform

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/tts"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"
)

// fakeLongformRepo is an in-memory stand-in for studiorepo.LongformRepo,
// enough to exercise Handler.Run without a database.
type fakeLongformRepo struct {
	mu       sync.Mutex
	parents  map[uuid.UUID]*domain.LongformJob
	segments map[uuid.UUID][]*domain.LongformSegment
}

func newFakeLongformRepo() *fakeLongformRepo {
	return &fakeLongformRepo{
		parents:  map[uuid.UUID]*domain.LongformJob{},
		segments: map[uuid.UUID][]*domain.LongformSegment{},
	}
}

func (f *fakeLongformRepo) CreateParent(_ dbctx.Context, lf *domain.LongformJob) (*domain.LongformJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *lf
	f.parents[lf.JobID] = &cp
	return &cp, nil
}

func (f *fakeLongformRepo) GetParent(_ dbctx.Context, jobID uuid.UUID) (*domain.LongformJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parents[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLongformRepo) CreateSegments(_ dbctx.Context, segments []*domain.LongformSegment) ([]*domain.LongformSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range segments {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		f.segments[s.LongformJobID] = append(f.segments[s.LongformJobID], s)
	}
	return segments, nil
}

func (f *fakeLongformRepo) ListSegmentsOrdered(_ dbctx.Context, longformJobID uuid.UUID) ([]*domain.LongformSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.LongformSegment, len(f.segments[longformJobID]))
	copy(out, f.segments[longformJobID])
	return out, nil
}

func (f *fakeLongformRepo) ClaimNextSegment(_ dbctx.Context, longformJobID uuid.UUID, maxInflight int) (*domain.LongformSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inflight := 0
	for _, s := range f.segments[longformJobID] {
		if s.Status == domain.SegmentAudioRunning || s.Status == domain.SegmentVideoRunning {
			inflight++
		}
	}
	if maxInflight > 0 && inflight >= maxInflight {
		return nil, nil
	}
	for _, s := range f.segments[longformJobID] {
		if s.Status == domain.SegmentQueued {
			s.Status = domain.SegmentAudioRunning
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeLongformRepo) UpdateSegment(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, segs := range f.segments {
		for _, s := range segs {
			if s.ID != id {
				continue
			}
			if v, ok := updates["status"]; ok {
				s.Status = v.(string)
			}
			if v, ok := updates["audio_url"]; ok {
				s2 := v.(string)
				s.AudioURL = &s2
			}
			if v, ok := updates["audio_artifact_id"]; ok {
				id2 := v.(uuid.UUID)
				s.AudioArtifactID = &id2
			}
			if v, ok := updates["fusion_job_id"]; ok {
				s2 := v.(string)
				s.FusionJobID = &s2
			}
			if v, ok := updates["segment_video_url"]; ok {
				s2 := v.(string)
				s.SegmentVideoURL = &s2
			}
			if v, ok := updates["error_code"]; ok {
				s.ErrorCode = v.(string)
			}
			if v, ok := updates["error_message"]; ok {
				s.ErrorMessage = v.(string)
			}
			return nil
		}
	}
	return nil
}

func (f *fakeLongformRepo) RecountCompleted(_ dbctx.Context, longformJobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	completed := 0
	for _, s := range f.segments[longformJobID] {
		if s.Status == domain.SegmentSucceeded {
			completed++
		}
	}
	if p, ok := f.parents[longformJobID]; ok {
		p.CompletedSegments = completed
	}
	return nil
}

func (f *fakeLongformRepo) UpdateParent(_ dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parents[jobID]
	if !ok {
		return nil
	}
	if v, ok := updates["final_video_url"]; ok {
		p.FinalVideoURL = v.(string)
	}
	return nil
}

func (f *fakeLongformRepo) ClaimNextStitching(_ dbctx.Context) (*domain.LongformJob, error) {
	return nil, nil
}

// fakeArtifactRepo is a minimal studiorepo.ArtifactRepo.
type fakeArtifactRepo struct {
	mu      sync.Mutex
	created []*domain.Artifact
}

func (f *fakeArtifactRepo) Create(_ dbctx.Context, a *domain.Artifact) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.created = append(f.created, a)
	return a, nil
}
func (f *fakeArtifactRepo) GetByID(dbctx.Context, uuid.UUID) (*domain.Artifact, error) { return nil, nil }
func (f *fakeArtifactRepo) ListByJobID(dbctx.Context, uuid.UUID) ([]*domain.Artifact, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) CreateMediaAsset(dbctx.Context, *domain.MediaAsset) (*domain.MediaAsset, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) GetMediaAssetByID(dbctx.Context, uuid.UUID) (*domain.MediaAsset, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) ListMediaAssetsByUser(dbctx.Context, uuid.UUID, string) ([]*domain.MediaAsset, error) {
	return nil, nil
}

// fakeProviderRunRepo is a minimal studiorepo.ProviderRunRepo.
type fakeProviderRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.ProviderRun
}

func newFakeProviderRunRepo() *fakeProviderRunRepo {
	return &fakeProviderRunRepo{runs: map[string]*domain.ProviderRun{}}
}

func (f *fakeProviderRunRepo) CreateOrGet(_ dbctx.Context, jobID uuid.UUID, provider, idempotencyKey string, request []byte) (*domain.ProviderRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[idempotencyKey]; ok {
		return r, nil
	}
	r := &domain.ProviderRun{ID: uuid.New(), JobID: jobID, Provider: provider, IdempotencyKey: idempotencyKey, ProviderStatus: domain.ProviderRunCreated}
	f.runs[idempotencyKey] = r
	return r, nil
}
func (f *fakeProviderRunRepo) GetByIdempotencyKey(_ dbctx.Context, idempotencyKey string) (*domain.ProviderRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[idempotencyKey], nil
}
func (f *fakeProviderRunRepo) MarkSubmitted(_ dbctx.Context, id uuid.UUID, providerJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			r.ProviderJobID = &providerJobID
			r.ProviderStatus = domain.ProviderRunSubmitted
		}
	}
	return nil
}
func (f *fakeProviderRunRepo) MarkStatus(_ dbctx.Context, id uuid.UUID, status string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			r.ProviderStatus = status
		}
	}
	return nil
}
func (f *fakeProviderRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, response []byte) error {
	return f.MarkStatus(dbc, id, domain.ProviderRunFailed, response)
}
func (f *fakeProviderRunRepo) UpsertFusionPerformance(dbctx.Context, *domain.FusionPerformance) (*domain.FusionPerformance, error) {
	return nil, nil
}

type fakeTTS struct{}

func (fakeTTS) Submit(context.Context, string, tts.Request) (tts.SubmitResult, error) {
	return tts.SubmitResult{ProviderJobID: "tts-job-1", Status: "queued"}, nil
}
func (fakeTTS) Poll(context.Context, string) (tts.StatusResult, error) {
	return tts.StatusResult{Status: "succeeded", Variants: []tts.Variant{{AudioURL: "https://cdn/audio.mp3", ContentType: "audio/mpeg", Bytes: 1024}}}, nil
}

type fakeFaceVideo struct{}

func (fakeFaceVideo) Submit(context.Context, string, facevideo.Request) (facevideo.SubmitResult, error) {
	return facevideo.SubmitResult{ProviderJobID: "fv-job-1"}, nil
}
func (fakeFaceVideo) Poll(context.Context, string) (facevideo.StatusResult, error) {
	return facevideo.StatusResult{Status: "succeeded", VideoURL: "https://cdn/seg.mp4"}, nil
}

func newTestHandler(lfRepo *fakeLongformRepo, artifactRepo *fakeArtifactRepo, providerRuns *fakeProviderRunRepo) *Handler {
	return &Handler{
		LongformRepo: lfRepo,
		ArtifactRepo: artifactRepo,
		ProviderRuns: providerRuns,
		TTS:          fakeTTS{},
		FaceVideo:    fakeFaceVideo{},
		Cfg: config.Config{
			MaxInflightPerJob:      2,
			TargetSegmentSeconds:   60,
			MaxSegmentSeconds:      120,
			WordsPerMinute:         150,
			MaxTotalSegmentsPerJob: 20,
			ProviderPollInterval:   10 * time.Millisecond,
			ProviderTotalDeadline:  time.Second,
		},
	}
}

func newTestContext(jobID uuid.UUID, payload map[string]any) *studioruntime.Context {
	job := &domain.Job{ID: jobID, Status: domain.JobRunning}
	jc := studioruntime.NewContext(context.Background(), nil, job, nil, nil)
	for k, v := range payload {
		jc.Payload()[k] = v
	}
	return jc
}

func TestHandlerRunChunksSubmitsAndStitches(t *testing.T) {
	lfRepo := newFakeLongformRepo()
	artifactRepo := &fakeArtifactRepo{}
	providerRuns := newFakeProviderRunRepo()
	h := newTestHandler(lfRepo, artifactRepo, providerRuns)

	jobID := uuid.New()
	jc := newTestContext(jobID, map[string]any{
		"script_text": "First sentence here. Second sentence here.",
		"aspect_ratio": "9:16",
	})

	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobStitching {
		t.Fatalf("want job handed off to stitching, got status=%s", jc.Job.Status)
	}

	segs, _ := lfRepo.ListSegmentsOrdered(dbctx.Context{}, jobID)
	for _, s := range segs {
		if s.Status != domain.SegmentSucceeded {
			t.Fatalf("expected all segments succeeded, got segment %d status=%s", s.SegmentIndex, s.Status)
		}
		if s.AudioURL == nil || s.SegmentVideoURL == nil {
			t.Fatalf("expected audio and video urls persisted for segment %d", s.SegmentIndex)
		}
	}
	if len(artifactRepo.created) != len(segs) {
		t.Fatalf("want one audio artifact per segment, got=%d segments=%d", len(artifactRepo.created), len(segs))
	}
}

func TestHandlerRunFailsWithoutScriptText(t *testing.T) {
	lfRepo := newFakeLongformRepo()
	h := newTestHandler(lfRepo, &fakeArtifactRepo{}, newFakeProviderRunRepo())

	jc := newTestContext(uuid.New(), map[string]any{})
	err := h.Run(jc)
	if err == nil {
		t.Fatalf("expected error for missing script_text")
	}
	var re *runErr
	if !asRunErr(err, &re) {
		t.Fatalf("expected *runErr, got=%T", err)
	}
	if re.ErrCode() != apierr.CodeBadRequest {
		t.Fatalf("want CodeBadRequest, got=%s", re.ErrCode())
	}
}

func TestHandlerRunRejectsTooManySegments(t *testing.T) {
	lfRepo := newFakeLongformRepo()
	h := newTestHandler(lfRepo, &fakeArtifactRepo{}, newFakeProviderRunRepo())
	h.Cfg.MaxTotalSegmentsPerJob = 1
	h.Cfg.TargetSegmentSeconds = 10
	h.Cfg.MaxSegmentSeconds = 10

	longSentence := strings.Repeat("word ", 30)
	script := longSentence + ". " + longSentence + ". " + longSentence + "."
	jc := newTestContext(uuid.New(), map[string]any{"script_text": script})

	err := h.Run(jc)
	if err == nil {
		t.Fatalf("expected too-many-segments error")
	}
	var re *runErr
	if !asRunErr(err, &re) {
		t.Fatalf("expected *runErr, got=%T", err)
	}
	if re.ErrCode() != apierr.CodeTooManySegments {
		t.Fatalf("want CodeTooManySegments, got=%s", re.ErrCode())
	}
}

func asRunErr(err error, target **runErr) bool {
	if e, ok := err.(*runErr); ok {
		*target = e
		return true
	}
	return false
}
