package fusion

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"
)

type fakeArtifactRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.Artifact
	created []*domain.Artifact
}

func newFakeArtifactRepo() *fakeArtifactRepo {
	return &fakeArtifactRepo{byID: map[uuid.UUID]*domain.Artifact{}}
}

func (f *fakeArtifactRepo) Create(_ dbctx.Context, a *domain.Artifact) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.byID[a.ID] = a
	f.created = append(f.created, a)
	return a, nil
}
func (f *fakeArtifactRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}
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

type fakeProviderRunRepoWithFusion struct {
	*fakeProviderRunRepo
	mu   sync.Mutex
	perf []*domain.FusionPerformance
}

func newFakeProviderRunRepoWithFusion() *fakeProviderRunRepoWithFusion {
	return &fakeProviderRunRepoWithFusion{fakeProviderRunRepo: newFakeProviderRunRepo()}
}

func (f *fakeProviderRunRepoWithFusion) UpsertFusionPerformance(_ dbctx.Context, perf *domain.FusionPerformance) (*domain.FusionPerformance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.perf {
		if p.Provider == perf.Provider && p.ProviderJobID != nil && perf.ProviderJobID != nil && *p.ProviderJobID == *perf.ProviderJobID {
			p.VideoURL = perf.VideoURL
			p.ArtifactID = perf.ArtifactID
			return p, nil
		}
	}
	if perf.ID == uuid.Nil {
		perf.ID = uuid.New()
	}
	f.perf = append(f.perf, perf)
	return perf, nil
}

type fakeFaceVideo struct {
	submitErr error
	pollErr   error
	videoURL  string
}

func (f fakeFaceVideo) Submit(context.Context, string, facevideo.Request) (facevideo.SubmitResult, error) {
	if f.submitErr != nil {
		return facevideo.SubmitResult{}, f.submitErr
	}
	return facevideo.SubmitResult{ProviderJobID: "fv-job-1"}, nil
}
func (f fakeFaceVideo) Poll(context.Context, string) (facevideo.StatusResult, error) {
	if f.pollErr != nil {
		return facevideo.StatusResult{}, f.pollErr
	}
	url := f.videoURL
	if url == "" {
		url = "https://cdn/fused.mp4"
	}
	return facevideo.StatusResult{Status: "succeeded", VideoURL: url}, nil
}

func newTestContext(payload map[string]any) *studioruntime.Context {
	job := &domain.Job{ID: uuid.New(), Status: domain.JobRunning}
	jc := studioruntime.NewContext(context.Background(), nil, job, nil, nil)
	for k, v := range payload {
		jc.Payload()[k] = v
	}
	return jc
}

func TestHandlerRunSucceedsWithDirectURLs(t *testing.T) {
	artifactRepo := newFakeArtifactRepo()
	h := &Handler{
		ArtifactRepo: artifactRepo,
		ProviderRuns: newFakeProviderRunRepoWithFusion(),
		FaceVideo:    fakeFaceVideo{},
	}
	jc := newTestContext(map[string]any{
		"face_image_url": "https://cdn/face.png",
		"audio_url":      "https://cdn/audio.mp3",
	})
	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobSucceeded {
		t.Fatalf("want succeeded, got=%s", jc.Job.Status)
	}
	if len(artifactRepo.created) != 1 || artifactRepo.created[0].Kind != domain.ArtifactVideo {
		t.Fatalf("want one video artifact, got=%+v", artifactRepo.created)
	}
}

func TestHandlerRunResolvesArtifactInputs(t *testing.T) {
	artifactRepo := newFakeArtifactRepo()
	faceArtifact, _ := artifactRepo.Create(dbctx.Context{}, &domain.Artifact{Kind: domain.ArtifactFace, URL: "https://cdn/face2.png"})
	audioArtifact, _ := artifactRepo.Create(dbctx.Context{}, &domain.Artifact{Kind: domain.ArtifactAudio, URL: "https://cdn/audio2.mp3"})

	h := &Handler{
		ArtifactRepo: artifactRepo,
		ProviderRuns: newFakeProviderRunRepoWithFusion(),
		FaceVideo:    fakeFaceVideo{},
	}
	jc := newTestContext(map[string]any{
		"face_artifact_id":  faceArtifact.ID.String(),
		"audio_artifact_id": audioArtifact.ID.String(),
	})
	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobSucceeded {
		t.Fatalf("want succeeded, got=%s", jc.Job.Status)
	}
}

func TestHandlerRunRejectsMissingFaceInput(t *testing.T) {
	h := &Handler{
		ArtifactRepo: newFakeArtifactRepo(),
		ProviderRuns: newFakeProviderRunRepoWithFusion(),
		FaceVideo:    fakeFaceVideo{},
	}
	jc := newTestContext(map[string]any{"audio_url": "https://cdn/audio.mp3"})
	err := h.Run(jc)
	re, ok := err.(*runErr)
	if !ok {
		t.Fatalf("want *runErr, got=%T (%v)", err, err)
	}
	if re.ErrCode() != apierr.CodeInvalidFaceInput {
		t.Fatalf("want CodeInvalidFaceInput, got=%s", re.ErrCode())
	}
}

func TestHandlerRunRejectsMissingAudioInput(t *testing.T) {
	h := &Handler{
		ArtifactRepo: newFakeArtifactRepo(),
		ProviderRuns: newFakeProviderRunRepoWithFusion(),
		FaceVideo:    fakeFaceVideo{},
	}
	jc := newTestContext(map[string]any{"face_image_url": "https://cdn/face.png"})
	err := h.Run(jc)
	re, ok := err.(*runErr)
	if !ok {
		t.Fatalf("want *runErr, got=%T (%v)", err, err)
	}
	if re.ErrCode() != apierr.CodeBadRequest {
		t.Fatalf("want CodeBadRequest, got=%s", re.ErrCode())
	}
}
